// Package offers sequences the offer state machine on top of a MarketStore.
// The backing store has no multi-row transactions, so accept's fan-out
// rejection is a best-effort saga: the accept write commits first and is
// never rolled back; failed sibling rejections surface as a partial result.
package offers

import (
	"context"
	"sync"
	"time"

	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/store"

	"go.uber.org/zap"
)

// CreateParams contains the buyer's input for a new offer.
type CreateParams struct {
	ListingId  string
	Price      int64
	Quantity   int
	MessageTag string
	Message    string
}

// AcceptResult reports the outcome of an accept, including which siblings
// could not be rejected so the caller can reconcile or retry.
type AcceptResult struct {
	Offer            *models.Offer
	RejectedOfferIds []string
	PendingOfferIds  []string
}

type Service struct {
	store store.MarketStore

	// Accepts on the same listing serialize on an in-process mutex. This is
	// only correct for a single-process deployment; see the interleaved
	// accept test for the race it closes.
	mu           sync.Mutex
	listingLocks map[string]*sync.Mutex
}

func NewService(st store.MarketStore) *Service {
	return &Service{
		store:        st,
		listingLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockForListing(listingId string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.listingLocks[listingId]
	if !ok {
		lock = &sync.Mutex{}
		s.listingLocks[listingId] = lock
	}
	return lock
}

// Create places a PENDING offer against an active listing.
func (s *Service) Create(ctx context.Context, auth models.AuthContext, params CreateParams) (*models.Offer, error) {
	if params.Price <= 0 {
		return nil, store.E(store.KindValidation, "offer price must be positive")
	}
	if params.Quantity < 1 {
		return nil, store.E(store.KindValidation, "offer quantity must be at least 1")
	}

	listing, err := s.store.GetListingById(ctx, params.ListingId)
	if err != nil {
		return nil, err
	}
	if listing.SellerId == auth.UserId {
		return nil, store.E(store.KindValidation, "cannot place an offer on your own listing")
	}
	if listing.Status != models.ListingStatusActive {
		return nil, store.E(store.KindInvalidState, "listing %s is not active", listing.Id)
	}
	if params.Quantity > listing.Quantity {
		return nil, store.E(store.KindValidation, "requested quantity %d exceeds available %d", params.Quantity, listing.Quantity)
	}

	offer, err := s.store.CreateOffer(ctx, store.CreateOfferParams{
		ListingId:  params.ListingId,
		BuyerId:    auth.UserId,
		Price:      params.Price,
		Quantity:   params.Quantity,
		MessageTag: params.MessageTag,
		Message:    params.Message,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Offer created",
		zap.String("offer_id", offer.Id),
		zap.String("listing_id", offer.ListingId),
		zap.String("buyer_id", offer.BuyerId),
		zap.Int64("price", offer.Price))
	return offer, nil
}

// Accept moves the offer to ACCEPTED and then rejects every other PENDING
// offer on the same listing. The accept write commits first; if a sibling
// rejection fails partway, the result lists the siblings still PENDING and
// the error carries KindPartialFanout. At most one offer per listing is ever
// ACCEPTED at a time.
func (s *Service) Accept(ctx context.Context, auth models.AuthContext, offerId string) (*AcceptResult, error) {
	offer, err := s.store.GetOfferById(ctx, offerId)
	if err != nil {
		return nil, err
	}
	listing, err := s.store.GetListingById(ctx, offer.ListingId)
	if err != nil {
		return nil, err
	}
	if listing.SellerId != auth.UserId {
		return nil, store.E(store.KindUnauthorized, "user %s does not own listing %s", auth.UserId, listing.Id)
	}

	lock := s.lockForListing(offer.ListingId)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a racing accept may have rejected this offer
	// between the ownership check and here.
	offer, err = s.store.GetOfferById(ctx, offerId)
	if err != nil {
		return nil, err
	}
	if offer.Status != models.OfferStatusPending {
		return nil, store.E(store.KindInvalidState, "offer %s is %s, only PENDING offers can be accepted", offer.Id, offer.Status)
	}

	accepted, err := s.store.UpdateOfferStatus(ctx, offerId, models.OfferStatusAccepted)
	if err != nil {
		return nil, err
	}

	siblings, err := s.store.GetOffersByListing(ctx, offer.ListingId)
	if err != nil {
		// Accepted but the sibling list is unknown; every sibling may still
		// be pending.
		zap.L().Error("Accepted offer but failed to load siblings for fan-out",
			zap.String("offer_id", offerId), zap.Error(err))
		return &AcceptResult{Offer: accepted},
			store.Wrap(store.KindPartialFanout, err, "offer accepted but sibling offers could not be loaded for rejection")
	}

	result := &AcceptResult{Offer: accepted}
	for _, sibling := range siblings {
		if sibling.Id == offerId || sibling.Status != models.OfferStatusPending {
			continue
		}
		if _, err := s.store.UpdateOfferStatus(ctx, sibling.Id, models.OfferStatusRejected); err != nil {
			zap.L().Error("Failed to reject sibling offer during fan-out",
				zap.String("accepted_offer_id", offerId),
				zap.String("sibling_offer_id", sibling.Id),
				zap.Error(err))
			result.PendingOfferIds = append(result.PendingOfferIds, sibling.Id)
			continue
		}
		result.RejectedOfferIds = append(result.RejectedOfferIds, sibling.Id)
	}

	if len(result.PendingOfferIds) > 0 {
		return result, store.E(store.KindPartialFanout,
			"offer %s accepted but %d sibling offer(s) remain pending", offerId, len(result.PendingOfferIds))
	}

	zap.L().Info("Offer accepted",
		zap.String("offer_id", offerId),
		zap.String("listing_id", offer.ListingId),
		zap.Int("rejected_siblings", len(result.RejectedOfferIds)))
	return result, nil
}

// Decline moves a PENDING offer to REJECTED. Only the listing owner may
// decline.
func (s *Service) Decline(ctx context.Context, auth models.AuthContext, offerId string) (*models.Offer, error) {
	offer, err := s.store.GetOfferById(ctx, offerId)
	if err != nil {
		return nil, err
	}
	listing, err := s.store.GetListingById(ctx, offer.ListingId)
	if err != nil {
		return nil, err
	}
	if listing.SellerId != auth.UserId {
		return nil, store.E(store.KindUnauthorized, "user %s does not own listing %s", auth.UserId, listing.Id)
	}
	if offer.Status != models.OfferStatusPending {
		return nil, store.E(store.KindInvalidState, "offer %s is %s, only PENDING offers can be declined", offer.Id, offer.Status)
	}
	return s.store.UpdateOfferStatus(ctx, offerId, models.OfferStatusRejected)
}

// Expire moves a PENDING offer to EXPIRED. Called by the external scheduler
// collaborator; there is no acting user.
func (s *Service) Expire(ctx context.Context, offerId string) (*models.Offer, error) {
	offer, err := s.store.GetOfferById(ctx, offerId)
	if err != nil {
		return nil, err
	}
	if offer.Status != models.OfferStatusPending {
		return nil, store.E(store.KindInvalidState, "offer %s is %s, only PENDING offers can expire", offer.Id, offer.Status)
	}
	return s.store.UpdateOfferStatus(ctx, offerId, models.OfferStatusExpired)
}

// ExpireStale expires every PENDING offer created before the cutoff,
// returning the ids it expired. Failures on individual offers are logged
// and skipped so one bad record never wedges a sweep.
func (s *Service) ExpireStale(ctx context.Context, listingId string, cutoff time.Time) ([]string, error) {
	offers, err := s.store.GetOffersByListing(ctx, listingId)
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, offer := range offers {
		if offer.Status != models.OfferStatusPending || !offer.CreatedAt.Before(cutoff) {
			continue
		}
		if _, err := s.Expire(ctx, offer.Id); err != nil {
			zap.L().Warn("Failed to expire stale offer",
				zap.String("offer_id", offer.Id), zap.Error(err))
			continue
		}
		expired = append(expired, offer.Id)
	}
	return expired, nil
}

// ListByListing returns all offers on a listing, newest state included.
func (s *Service) ListByListing(ctx context.Context, listingId string) ([]models.Offer, error) {
	return s.store.GetOffersByListing(ctx, listingId)
}

// ListByBuyer returns all offers placed by a buyer.
func (s *Service) ListByBuyer(ctx context.Context, buyerId string) ([]models.Offer, error) {
	return s.store.GetOffersByBuyer(ctx, buyerId)
}
