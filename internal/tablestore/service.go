// Package tablestore implements store.MarketStore against the rate-limited
// hosted table service. Reads are cache-first; every remote call goes
// through the dispatcher; writes invalidate affected cache keys before
// returning so a same-process read never observes pre-write state.
package tablestore

import (
	"context"
	"errors"
	"time"

	"ticket-marketplace-core/internal/cache"
	"ticket-marketplace-core/internal/dispatch"
	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/remote"
	"ticket-marketplace-core/internal/store"

	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.MarketStore.
var _ store.MarketStore = (*Service)(nil)

type Service struct {
	client     remote.Client
	dispatcher *dispatch.Dispatcher
	cache      *cache.Cache
	ttls       models.CacheConfig
	retryDelay time.Duration
	now        func() time.Time
}

func NewService(client remote.Client, dispatcher *dispatch.Dispatcher, c *cache.Cache, cfg models.CacheConfig, retryDelay time.Duration) *Service {
	return &Service{
		client:     client,
		dispatcher: dispatcher,
		cache:      c,
		ttls:       cfg,
		retryDelay: retryDelay,
		now:        time.Now,
	}
}

// Close releases the dispatcher. The cache needs no teardown.
func (s *Service) Close() {
	s.dispatcher.Close()
}

// --- dispatcher plumbing ---

// transient reports whether the gateway should retry once internally.
// Timeouts are excluded: a timed-out call is failed, not retried (the
// in-flight request cannot be canceled, so retrying risks a double write).
func transient(err error) bool {
	if errors.Is(err, remote.ErrThrottled) {
		return true
	}
	if errors.Is(err, remote.ErrRecordNotFound) || errors.Is(err, remote.ErrFilterUnsupported) {
		return false
	}
	if store.KindOf(err) != "" {
		return false
	}
	return true
}

// call issues op through the dispatcher with one internal retry of
// transient failures. Anything still failing surfaces as RemoteUnavailable.
func (s *Service) call(ctx context.Context, op dispatch.Operation) (any, error) {
	v, err := s.dispatcher.Execute(ctx, op)
	if err == nil || !transient(err) {
		return v, err
	}

	zap.L().Warn("Transient remote failure, retrying once",
		zap.Duration("delay", s.retryDelay), zap.Error(err))
	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
		return nil, store.Wrap(store.KindRemoteTimeout, ctx.Err(), "canceled during retry delay")
	}

	v, err = s.dispatcher.Execute(ctx, op)
	if err != nil && transient(err) {
		return nil, store.Wrap(store.KindRemoteUnavailable, err, "remote store unavailable after retry")
	}
	return v, err
}

func (s *Service) getRecord(ctx context.Context, table, id string) (remote.Record, error) {
	v, err := s.call(ctx, func(ctx context.Context) (any, error) {
		return s.client.Get(ctx, table, id)
	})
	if err != nil {
		return remote.Record{}, err
	}
	return v.(remote.Record), nil
}

func (s *Service) insertRecord(ctx context.Context, table string, mapping map[string]fieldSpec, domain map[string]any) (remote.Record, error) {
	fields, err := translate(mapping, domain)
	if err != nil {
		return remote.Record{}, err
	}
	v, err := s.call(ctx, func(ctx context.Context) (any, error) {
		return s.client.Insert(ctx, table, fields)
	})
	if err != nil {
		return remote.Record{}, err
	}
	return v.(remote.Record), nil
}

func (s *Service) updateRecord(ctx context.Context, table, id string, mapping map[string]fieldSpec, domain map[string]any) (remote.Record, error) {
	fields, err := translate(mapping, domain)
	if err != nil {
		return remote.Record{}, err
	}
	v, err := s.call(ctx, func(ctx context.Context) (any, error) {
		return s.client.Update(ctx, table, id, fields)
	})
	if err != nil {
		return remote.Record{}, err
	}
	return v.(remote.Record), nil
}

// findByField looks records up by a non-primary field. Link fields skip the
// native filter entirely; other fields fall back to a full-table scan when
// the remote query language refuses the filter. The fallback is logged and
// never silently returns an empty result in place of a failed filter.
func (s *Service) findByField(ctx context.Context, table string, spec fieldSpec, value string) ([]remote.Record, error) {
	if spec.link {
		zap.L().Warn("Link field filter is unreliable remotely, scanning table",
			zap.String("table", table), zap.String("field", spec.remote))
		return s.scanFind(ctx, table, spec.remote, value)
	}

	v, err := s.call(ctx, func(ctx context.Context) (any, error) {
		return s.client.Find(ctx, table, remote.Filter{Field: spec.remote, Value: value})
	})
	if errors.Is(err, remote.ErrFilterUnsupported) {
		zap.L().Warn("Remote filter unsupported, falling back to full scan",
			zap.String("table", table), zap.String("field", spec.remote))
		return s.scanFind(ctx, table, spec.remote, value)
	}
	if err != nil {
		return nil, err
	}
	return v.([]remote.Record), nil
}

func (s *Service) scanFind(ctx context.Context, table, remoteField, value string) ([]remote.Record, error) {
	v, err := s.call(ctx, func(ctx context.Context) (any, error) {
		return s.client.Find(ctx, table, remote.Filter{})
	})
	if err != nil {
		return nil, err
	}
	var matched []remote.Record
	for _, rec := range v.([]remote.Record) {
		if asString(rec.Fields[remoteField]) == value {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// --- Users ---

func (s *Service) GetUserById(ctx context.Context, id string) (*models.User, error) {
	key := cache.Key("user", id)
	if v, ok := s.cache.Get(key); ok {
		user := v.(models.User)
		return &user, nil
	}

	rec, err := s.getRecord(ctx, tableUsers, id)
	if errors.Is(err, remote.ErrRecordNotFound) {
		return nil, store.E(store.KindNotFound, "user %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	user := userFromRecord(rec)
	s.cache.Set(key, user, s.ttls.UserTTL)
	return &user, nil
}

func (s *Service) GetUserByAuthId(ctx context.Context, authId string) (*models.User, error) {
	return s.findOneUser(ctx, "auth_id", authId)
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOneUser(ctx, "username", username)
}

func (s *Service) findOneUser(ctx context.Context, field, value string) (*models.User, error) {
	key := cache.QueryKey("user", field, value)
	if v, ok := s.cache.Get(key); ok {
		user := v.(models.User)
		return &user, nil
	}

	records, err := s.findByField(ctx, tableUsers, userMapping[field], value)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.E(store.KindNotFound, "no user with %s=%s", field, value)
	}
	user := userFromRecord(records[0])
	s.cache.Set(key, user, s.ttls.UserTTL)
	s.cache.Set(cache.Key("user", user.Id), user, s.ttls.UserTTL)
	return &user, nil
}

func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	if params.AuthId == "" || params.Username == "" {
		return nil, store.E(store.KindValidation, "auth id and username are required")
	}
	if existing, err := s.GetUserByUsername(ctx, params.Username); err == nil && existing != nil {
		return nil, store.E(store.KindValidation, "username %q is already taken", params.Username)
	}

	now := s.now()
	rec, err := s.insertRecord(ctx, tableUsers, userMapping, map[string]any{
		"auth_id":     params.AuthId,
		"email":       params.Email,
		"username":    params.Username,
		"rating":      0.0,
		"verified":    false,
		"total_sales": 0,
		"active":      true,
		"created_at":  encodeTime(now),
		"updated_at":  encodeTime(now),
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cache.QueryPrefix("user"))
	user := userFromRecord(rec)
	s.cache.Set(cache.Key("user", user.Id), user, s.ttls.UserTTL)
	return &user, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*models.User, error) {
	domain := map[string]any{"updated_at": encodeTime(s.now())}
	if patch.Rating != nil {
		domain["rating"] = *patch.Rating
	}
	if patch.Verified != nil {
		domain["verified"] = *patch.Verified
	}
	if patch.TotalSales != nil {
		domain["total_sales"] = *patch.TotalSales
	}
	if patch.Active != nil {
		domain["active"] = *patch.Active
	}

	rec, err := s.updateRecord(ctx, tableUsers, id, userMapping, domain)
	if errors.Is(err, remote.ErrRecordNotFound) {
		return nil, store.E(store.KindNotFound, "user %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cache.Key("user", id))
	s.cache.Invalidate(cache.QueryPrefix("user"))
	user := userFromRecord(rec)
	s.cache.Set(cache.Key("user", id), user, s.ttls.UserTTL)
	return &user, nil
}

// --- Listings ---

func (s *Service) CreateListing(ctx context.Context, params store.CreateListingParams) (*models.Listing, error) {
	now := s.now()
	rec, err := s.insertRecord(ctx, tableListings, listingMapping, map[string]any{
		"seller_id":  params.SellerId,
		"title":      params.Title,
		"event_name": params.EventName,
		"event_date": encodeTime(params.EventDate),
		"venue":      params.Venue,
		"price":      params.Price,
		"quantity":   params.Quantity,
		"status":     string(models.ListingStatusActive),
		"views":      0,
		"created_at": encodeTime(now),
		"updated_at": encodeTime(now),
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cache.QueryPrefix("listing"))
	listing := listingFromRecord(rec)
	s.cache.Set(cache.Key("listing", listing.Id), listing, s.ttls.ListingTTL)
	return &listing, nil
}

func (s *Service) GetListingById(ctx context.Context, id string) (*models.Listing, error) {
	key := cache.Key("listing", id)
	if v, ok := s.cache.Get(key); ok {
		listing := v.(models.Listing)
		return &listing, nil
	}

	rec, err := s.getRecord(ctx, tableListings, id)
	if errors.Is(err, remote.ErrRecordNotFound) {
		return nil, store.E(store.KindNotFound, "listing %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	listing := listingFromRecord(rec)
	s.cache.Set(key, listing, s.ttls.ListingTTL)
	return &listing, nil
}

func (s *Service) GetListingsBySeller(ctx context.Context, sellerId string) ([]models.Listing, error) {
	return s.findListings(ctx, "seller_id", sellerId)
}

func (s *Service) GetListingsByStatus(ctx context.Context, status models.ListingStatus) ([]models.Listing, error) {
	return s.findListings(ctx, "status", string(status))
}

func (s *Service) findListings(ctx context.Context, field, value string) ([]models.Listing, error) {
	key := cache.QueryKey("listing", field, value)
	if v, ok := s.cache.Get(key); ok {
		return append([]models.Listing(nil), v.([]models.Listing)...), nil
	}

	records, err := s.findByField(ctx, tableListings, listingMapping[field], value)
	if err != nil {
		return nil, err
	}
	listings := make([]models.Listing, len(records))
	for i, rec := range records {
		listings[i] = listingFromRecord(rec)
	}
	s.cache.Set(key, listings, s.ttls.ListingTTL)
	return append([]models.Listing(nil), listings...), nil
}

func (s *Service) UpdateListing(ctx context.Context, id string, patch store.ListingPatch) (*models.Listing, error) {
	domain := map[string]any{"updated_at": encodeTime(s.now())}
	if patch.Quantity != nil {
		domain["quantity"] = *patch.Quantity
	}
	if patch.Status != nil {
		domain["status"] = string(*patch.Status)
	}
	if patch.Price != nil {
		domain["price"] = *patch.Price
	}
	if patch.Views != nil {
		domain["views"] = *patch.Views
	}

	rec, err := s.updateRecord(ctx, tableListings, id, listingMapping, domain)
	if errors.Is(err, remote.ErrRecordNotFound) {
		return nil, store.E(store.KindNotFound, "listing %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cache.Key("listing", id))
	s.cache.Invalidate(cache.QueryPrefix("listing"))
	listing := listingFromRecord(rec)
	s.cache.Set(cache.Key("listing", id), listing, s.ttls.ListingTTL)
	return &listing, nil
}

func (s *Service) IncrementListingViews(ctx context.Context, id string) error {
	listing, err := s.GetListingById(ctx, id)
	if err != nil {
		return err
	}
	views := listing.Views + 1
	_, err = s.UpdateListing(ctx, id, store.ListingPatch{Views: &views})
	return err
}

// DelistListing soft-deletes: offers may still reference the listing, so
// the record is never physically removed.
func (s *Service) DelistListing(ctx context.Context, id string) error {
	status := models.ListingStatusDelisted
	_, err := s.UpdateListing(ctx, id, store.ListingPatch{Status: &status})
	return err
}

// --- Offers ---

func (s *Service) CreateOffer(ctx context.Context, params store.CreateOfferParams) (*models.Offer, error) {
	now := s.now()
	rec, err := s.insertRecord(ctx, tableOffers, offerMapping, map[string]any{
		"listing_id":  params.ListingId,
		"buyer_id":    params.BuyerId,
		"price":       params.Price,
		"quantity":    params.Quantity,
		"status":      string(models.OfferStatusPending),
		"message_tag": params.MessageTag,
		"message":     params.Message,
		"created_at":  encodeTime(now),
		"updated_at":  encodeTime(now),
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cache.QueryPrefix("offer"))
	offer := offerFromRecord(rec)
	s.cache.Set(cache.Key("offer", offer.Id), offer, s.ttls.OfferTTL)
	return &offer, nil
}

func (s *Service) GetOfferById(ctx context.Context, id string) (*models.Offer, error) {
	key := cache.Key("offer", id)
	if v, ok := s.cache.Get(key); ok {
		offer := v.(models.Offer)
		return &offer, nil
	}

	rec, err := s.getRecord(ctx, tableOffers, id)
	if errors.Is(err, remote.ErrRecordNotFound) {
		return nil, store.E(store.KindNotFound, "offer %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	offer := offerFromRecord(rec)
	s.cache.Set(key, offer, s.ttls.OfferTTL)
	return &offer, nil
}

func (s *Service) GetOffersByListing(ctx context.Context, listingId string) ([]models.Offer, error) {
	return s.findOffers(ctx, "listing_id", listingId)
}

func (s *Service) GetOffersByBuyer(ctx context.Context, buyerId string) ([]models.Offer, error) {
	return s.findOffers(ctx, "buyer_id", buyerId)
}

func (s *Service) findOffers(ctx context.Context, field, value string) ([]models.Offer, error) {
	key := cache.QueryKey("offer", field, value)
	if v, ok := s.cache.Get(key); ok {
		return append([]models.Offer(nil), v.([]models.Offer)...), nil
	}

	records, err := s.findByField(ctx, tableOffers, offerMapping[field], value)
	if err != nil {
		return nil, err
	}
	offers := make([]models.Offer, len(records))
	for i, rec := range records {
		offers[i] = offerFromRecord(rec)
	}
	s.cache.Set(key, offers, s.ttls.OfferTTL)
	return append([]models.Offer(nil), offers...), nil
}

// UpdateOfferStatus writes the new status and invalidates both the offer's
// own key and every cached offer list (the listing's offer list included)
// before returning, per the cross-entity invalidation contract.
func (s *Service) UpdateOfferStatus(ctx context.Context, id string, status models.OfferStatus) (*models.Offer, error) {
	rec, err := s.updateRecord(ctx, tableOffers, id, offerMapping, map[string]any{
		"status":     string(status),
		"updated_at": encodeTime(s.now()),
	})
	if errors.Is(err, remote.ErrRecordNotFound) {
		return nil, store.E(store.KindNotFound, "offer %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cache.Key("offer", id))
	s.cache.Invalidate(cache.QueryPrefix("offer"))
	offer := offerFromRecord(rec)
	s.cache.Set(cache.Key("offer", id), offer, s.ttls.OfferTTL)
	return &offer, nil
}

// --- Payment intents ---

func (s *Service) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	timeline, err := encodeTimeline(intent.Timeline)
	if err != nil {
		return nil, store.Wrap(store.KindValidation, err, "invalid timeline")
	}

	now := s.now()
	rec, err := s.insertRecord(ctx, tableIntents, intentMapping, map[string]any{
		"offer_id":       intent.OfferId,
		"listing_id":     intent.ListingId,
		"buyer_id":       intent.BuyerId,
		"seller_id":      intent.SellerId,
		"amount":         intent.Amount,
		"platform_fee":   intent.PlatformFee,
		"seller_amount":  intent.SellerAmount,
		"status":         string(intent.Status),
		"timeline":       timeline,
		"failure_reason": intent.FailureReason,
		"created_at":     encodeTime(now),
		"updated_at":     encodeTime(now),
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cache.QueryPrefix("payment"))
	created := intentFromRecord(rec)
	s.cache.Set(cache.Key("payment", created.Id), created, s.ttls.PaymentTTL)
	return &created, nil
}

func (s *Service) GetPaymentIntentById(ctx context.Context, id string) (*models.PaymentIntent, error) {
	key := cache.Key("payment", id)
	if v, ok := s.cache.Get(key); ok {
		intent := v.(models.PaymentIntent)
		return &intent, nil
	}

	rec, err := s.getRecord(ctx, tableIntents, id)
	if errors.Is(err, remote.ErrRecordNotFound) {
		return nil, store.E(store.KindNotFound, "payment intent %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	intent := intentFromRecord(rec)
	s.cache.Set(key, intent, s.ttls.PaymentTTL)
	return &intent, nil
}

func (s *Service) GetPaymentIntentsByOffer(ctx context.Context, offerId string) ([]models.PaymentIntent, error) {
	key := cache.QueryKey("payment", "offer_id", offerId)
	if v, ok := s.cache.Get(key); ok {
		return append([]models.PaymentIntent(nil), v.([]models.PaymentIntent)...), nil
	}

	records, err := s.findByField(ctx, tableIntents, intentMapping["offer_id"], offerId)
	if err != nil {
		return nil, err
	}
	intents := make([]models.PaymentIntent, len(records))
	for i, rec := range records {
		intents[i] = intentFromRecord(rec)
	}
	s.cache.Set(key, intents, s.ttls.PaymentTTL)
	return append([]models.PaymentIntent(nil), intents...), nil
}

func (s *Service) UpdatePaymentIntent(ctx context.Context, id string, patch store.PaymentIntentPatch) (*models.PaymentIntent, error) {
	domain := map[string]any{"updated_at": encodeTime(s.now())}
	if patch.Status != nil {
		domain["status"] = string(*patch.Status)
	}
	if patch.Timeline != nil {
		timeline, err := encodeTimeline(patch.Timeline)
		if err != nil {
			return nil, store.Wrap(store.KindValidation, err, "invalid timeline")
		}
		domain["timeline"] = timeline
	}
	if patch.FailureReason != nil {
		domain["failure_reason"] = *patch.FailureReason
	}

	rec, err := s.updateRecord(ctx, tableIntents, id, intentMapping, domain)
	if errors.Is(err, remote.ErrRecordNotFound) {
		return nil, store.E(store.KindNotFound, "payment intent %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(cache.Key("payment", id))
	s.cache.Invalidate(cache.QueryPrefix("payment"))
	intent := intentFromRecord(rec)
	s.cache.Set(cache.Key("payment", id), intent, s.ttls.PaymentTTL)
	return &intent, nil
}
