package store

import (
	"context"
	"time"

	"ticket-marketplace-core/internal/models"
)

// CreateUserParams contains the fields for bootstrapping a user on first
// authenticated access.
type CreateUserParams struct {
	AuthId   string
	Email    string
	Username string
}

// CreateListingParams contains the fields a seller supplies for a new listing.
type CreateListingParams struct {
	SellerId  string
	Title     string
	EventName string
	EventDate time.Time
	Venue     string
	Price     int64
	Quantity  int
}

// CreateOfferParams contains the fields a buyer supplies for a new offer.
type CreateOfferParams struct {
	ListingId  string
	BuyerId    string
	Price      int64
	Quantity   int
	MessageTag string
	Message    string
}

// UserPatch carries optional user field updates; nil means unchanged.
type UserPatch struct {
	Rating     *float64
	Verified   *bool
	TotalSales *int
	Active     *bool
}

// ListingPatch carries optional listing field updates; nil means unchanged.
type ListingPatch struct {
	Quantity *int
	Status   *models.ListingStatus
	Price    *int64
	Views    *int64
}

// PaymentIntentPatch carries optional intent field updates; nil means
// unchanged. Timeline replaces the stored array wholesale; append-only
// discipline is enforced by the payment service, not the store.
type PaymentIntentPatch struct {
	Status        *models.PaymentStatus
	Timeline      []models.TimelineEntry
	FailureReason *string
}

// MarketStore is the contract every backend (remote table, sqlite) must
// satisfy. The gateways own all remote-store I/O; nothing outside this core
// layer calls the record store directly.
type MarketStore interface {
	// --- Users ---
	GetUserById(ctx context.Context, id string) (*models.User, error)
	GetUserByAuthId(ctx context.Context, authId string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error)
	UpdateUser(ctx context.Context, id string, patch UserPatch) (*models.User, error)

	// --- Listings ---
	CreateListing(ctx context.Context, params CreateListingParams) (*models.Listing, error)
	GetListingById(ctx context.Context, id string) (*models.Listing, error)
	GetListingsBySeller(ctx context.Context, sellerId string) ([]models.Listing, error)
	GetListingsByStatus(ctx context.Context, status models.ListingStatus) ([]models.Listing, error)
	UpdateListing(ctx context.Context, id string, patch ListingPatch) (*models.Listing, error)
	IncrementListingViews(ctx context.Context, id string) error
	DelistListing(ctx context.Context, id string) error

	// --- Offers ---
	CreateOffer(ctx context.Context, params CreateOfferParams) (*models.Offer, error)
	GetOfferById(ctx context.Context, id string) (*models.Offer, error)
	GetOffersByListing(ctx context.Context, listingId string) ([]models.Offer, error)
	GetOffersByBuyer(ctx context.Context, buyerId string) ([]models.Offer, error)
	UpdateOfferStatus(ctx context.Context, id string, status models.OfferStatus) (*models.Offer, error)

	// --- Payment intents ---
	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error)
	GetPaymentIntentById(ctx context.Context, id string) (*models.PaymentIntent, error)
	GetPaymentIntentsByOffer(ctx context.Context, offerId string) ([]models.PaymentIntent, error)
	UpdatePaymentIntent(ctx context.Context, id string, patch PaymentIntentPatch) (*models.PaymentIntent, error)

	// --- Lifecycle ---
	Close()
}

// EnsureUser returns the user for authId, creating it on first access.
// Shared across backends since it composes interface methods only.
func EnsureUser(ctx context.Context, s MarketStore, params CreateUserParams) (*models.User, error) {
	user, err := s.GetUserByAuthId(ctx, params.AuthId)
	if err == nil {
		return user, nil
	}
	if !IsKind(err, KindNotFound) {
		return nil, err
	}
	return s.CreateUser(ctx, params)
}
