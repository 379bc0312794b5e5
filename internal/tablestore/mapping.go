package tablestore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/remote"
	"ticket-marketplace-core/internal/store"
)

// Remote table names. The hosted base uses human-facing names.
const (
	tableUsers    = "Users"
	tableListings = "Listings"
	tableOffers   = "Offers"
	tableIntents  = "Payment Intents"
)

// fieldSpec describes how one domain field appears in the remote schema.
// Link fields reference records in another table; the remote query language
// does not match them reliably, so lookups on them go straight to a scan.
type fieldSpec struct {
	remote string
	link   bool
}

// The mappings below must be total and reversible for every mapped field:
// every remote name is unique within its table, and reads translate back
// through the same specs. An unmapped field on read is ignored; an unmapped
// field on write is a configuration error (see translate).

var userMapping = map[string]fieldSpec{
	"auth_id":     {remote: "Auth ID"},
	"email":       {remote: "Email"},
	"username":    {remote: "Username"},
	"rating":      {remote: "Rating"},
	"verified":    {remote: "Verified"},
	"total_sales": {remote: "Total Sales"},
	"active":      {remote: "Active"},
	"created_at":  {remote: "Created At"},
	"updated_at":  {remote: "Updated At"},
}

var listingMapping = map[string]fieldSpec{
	"seller_id":  {remote: "Seller", link: true},
	"title":      {remote: "Title"},
	"event_name": {remote: "Event Name"},
	"event_date": {remote: "Event Date"},
	"venue":      {remote: "Venue"},
	"price":      {remote: "Price"},
	"quantity":   {remote: "Quantity"},
	"status":     {remote: "Status"},
	"views":      {remote: "Views"},
	"created_at": {remote: "Created At"},
	"updated_at": {remote: "Updated At"},
}

var offerMapping = map[string]fieldSpec{
	"listing_id":  {remote: "Listing", link: true},
	"buyer_id":    {remote: "Buyer", link: true},
	"price":       {remote: "Offer Price"},
	"quantity":    {remote: "Quantity"},
	"status":      {remote: "Status"},
	"message_tag": {remote: "Message Template"},
	"message":     {remote: "Message"},
	"created_at":  {remote: "Created At"},
	"updated_at":  {remote: "Updated At"},
}

var intentMapping = map[string]fieldSpec{
	"offer_id":       {remote: "Offer", link: true},
	"listing_id":     {remote: "Listing", link: true},
	"buyer_id":       {remote: "Buyer", link: true},
	"seller_id":      {remote: "Seller", link: true},
	"amount":         {remote: "Amount"},
	"platform_fee":   {remote: "Platform Fee"},
	"seller_amount":  {remote: "Seller Amount"},
	"status":         {remote: "Status"},
	"timeline":       {remote: "Timeline"},
	"failure_reason": {remote: "Failure Reason"},
	"created_at":     {remote: "Created At"},
	"updated_at":     {remote: "Updated At"},
}

// translate converts a domain-field map into remote field names. A domain
// field absent from the mapping fails fast rather than silently dropping
// data the schema drifted away from.
func translate(mapping map[string]fieldSpec, domain map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(domain))
	for field, value := range domain {
		spec, ok := mapping[field]
		if !ok {
			return nil, store.E(store.KindConfiguration, "field %q has no remote mapping", field)
		}
		out[spec.remote] = value
	}
	return out, nil
}

// --- value decoding helpers (remote numbers arrive as float64) ---

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	}
	return 0
}

func asInt(v any) int { return int(asInt64(v)) }

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		parsed, _ := strconv.ParseFloat(n, 64)
		return parsed
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func encodeTimeline(timeline []models.TimelineEntry) (string, error) {
	data, err := json.Marshal(timeline)
	if err != nil {
		return "", fmt.Errorf("unable to encode timeline: %w", err)
	}
	return string(data), nil
}

func decodeTimeline(v any) []models.TimelineEntry {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var timeline []models.TimelineEntry
	if err := json.Unmarshal([]byte(s), &timeline); err != nil {
		return nil
	}
	return timeline
}

// --- record <-> entity translation ---

func userFromRecord(rec remote.Record) models.User {
	f := rec.Fields
	return models.User{
		Id:         rec.ID,
		AuthId:     asString(f[userMapping["auth_id"].remote]),
		Email:      asString(f[userMapping["email"].remote]),
		Username:   asString(f[userMapping["username"].remote]),
		Rating:     asFloat(f[userMapping["rating"].remote]),
		Verified:   asBool(f[userMapping["verified"].remote]),
		TotalSales: asInt(f[userMapping["total_sales"].remote]),
		Active:     asBool(f[userMapping["active"].remote]),
		CreatedAt:  asTime(f[userMapping["created_at"].remote]),
		UpdatedAt:  asTime(f[userMapping["updated_at"].remote]),
	}
}

func listingFromRecord(rec remote.Record) models.Listing {
	f := rec.Fields
	return models.Listing{
		Id:        rec.ID,
		SellerId:  asString(f[listingMapping["seller_id"].remote]),
		Title:     asString(f[listingMapping["title"].remote]),
		EventName: asString(f[listingMapping["event_name"].remote]),
		EventDate: asTime(f[listingMapping["event_date"].remote]),
		Venue:     asString(f[listingMapping["venue"].remote]),
		Price:     asInt64(f[listingMapping["price"].remote]),
		Quantity:  asInt(f[listingMapping["quantity"].remote]),
		Status:    models.ListingStatus(asString(f[listingMapping["status"].remote])),
		Views:     asInt64(f[listingMapping["views"].remote]),
		CreatedAt: asTime(f[listingMapping["created_at"].remote]),
		UpdatedAt: asTime(f[listingMapping["updated_at"].remote]),
	}
}

func offerFromRecord(rec remote.Record) models.Offer {
	f := rec.Fields
	return models.Offer{
		Id:         rec.ID,
		ListingId:  asString(f[offerMapping["listing_id"].remote]),
		BuyerId:    asString(f[offerMapping["buyer_id"].remote]),
		Price:      asInt64(f[offerMapping["price"].remote]),
		Quantity:   asInt(f[offerMapping["quantity"].remote]),
		Status:     models.OfferStatus(asString(f[offerMapping["status"].remote])),
		MessageTag: asString(f[offerMapping["message_tag"].remote]),
		Message:    asString(f[offerMapping["message"].remote]),
		CreatedAt:  asTime(f[offerMapping["created_at"].remote]),
		UpdatedAt:  asTime(f[offerMapping["updated_at"].remote]),
	}
}

func intentFromRecord(rec remote.Record) models.PaymentIntent {
	f := rec.Fields
	return models.PaymentIntent{
		Id:            rec.ID,
		OfferId:       asString(f[intentMapping["offer_id"].remote]),
		ListingId:     asString(f[intentMapping["listing_id"].remote]),
		BuyerId:       asString(f[intentMapping["buyer_id"].remote]),
		SellerId:      asString(f[intentMapping["seller_id"].remote]),
		Amount:        asInt64(f[intentMapping["amount"].remote]),
		PlatformFee:   asInt64(f[intentMapping["platform_fee"].remote]),
		SellerAmount:  asInt64(f[intentMapping["seller_amount"].remote]),
		Status:        models.PaymentStatus(asString(f[intentMapping["status"].remote])),
		Timeline:      decodeTimeline(f[intentMapping["timeline"].remote]),
		FailureReason: asString(f[intentMapping["failure_reason"].remote]),
		CreatedAt:     asTime(f[intentMapping["created_at"].remote]),
		UpdatedAt:     asTime(f[intentMapping["updated_at"].remote]),
	}
}
