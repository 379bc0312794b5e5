// Package payments drives the payment-intent state machine. No real payment
// network is involved: processing is simulated with a configurable delay and
// failure rate, deterministic under test via the outcome hook.
package payments

import (
	"context"
	"math/rand"
	"time"

	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	store   store.MarketStore
	cfg     models.PaymentsConfig
	outcome func() bool // true = payment succeeds
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithOutcome fixes the simulated processing result, for tests.
func WithOutcome(outcome func() bool) Option {
	return func(s *Service) { s.outcome = outcome }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.MarketStore, cfg models.PaymentsConfig, opts ...Option) *Service {
	s := &Service{
		store: st,
		cfg:   cfg,
		now:   time.Now,
	}
	s.outcome = func() bool { return rand.Float64() >= cfg.MockFailureRate }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// computeFee splits the amount into platform fee and seller remainder.
// Exact percent math on minor units, half-up rounding: 950 at 6% -> 57.
func computeFee(amount int64, feePercent float64) (platformFee, sellerAmount int64) {
	fee := decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(feePercent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	return fee, amount - fee
}

// CreateIntent opens a payment intent for an accepted offer. The buyer is
// the acting user; exactly one non-terminal intent may exist per offer.
func (s *Service) CreateIntent(ctx context.Context, auth models.AuthContext, offerId string) (*models.PaymentIntent, error) {
	offer, err := s.store.GetOfferById(ctx, offerId)
	if err != nil {
		return nil, err
	}
	if offer.BuyerId != auth.UserId {
		return nil, store.E(store.KindUnauthorized, "user %s is not the buyer on offer %s", auth.UserId, offerId)
	}
	if offer.Status != models.OfferStatusAccepted {
		return nil, store.E(store.KindInvalidState, "offer %s is %s, payment requires an ACCEPTED offer", offerId, offer.Status)
	}

	existing, err := s.store.GetPaymentIntentsByOffer(ctx, offerId)
	if err != nil {
		return nil, err
	}
	for _, intent := range existing {
		if intent.Status != models.PaymentStatusFailed && intent.Status != models.PaymentStatusCanceled {
			return nil, store.E(store.KindInvalidState, "offer %s already has payment intent %s in status %s", offerId, intent.Id, intent.Status)
		}
		if intent.Status == models.PaymentStatusFailed {
			return nil, store.E(store.KindInvalidState, "offer %s has failed intent %s, cancel it before retrying", offerId, intent.Id)
		}
	}

	listing, err := s.store.GetListingById(ctx, offer.ListingId)
	if err != nil {
		return nil, err
	}

	amount := offer.Price * int64(offer.Quantity)
	platformFee, sellerAmount := computeFee(amount, s.cfg.FeePercent)

	created, err := s.store.CreatePaymentIntent(ctx, &models.PaymentIntent{
		OfferId:      offer.Id,
		ListingId:    listing.Id,
		BuyerId:      offer.BuyerId,
		SellerId:     listing.SellerId,
		Amount:       amount,
		PlatformFee:  platformFee,
		SellerAmount: sellerAmount,
		Status:       models.PaymentStatusRequiresPaymentMethod,
		Timeline: []models.TimelineEntry{
			{Status: models.PaymentStatusRequiresPaymentMethod, At: s.now()},
		},
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Payment intent created",
		zap.String("intent_id", created.Id),
		zap.String("offer_id", offerId),
		zap.Int64("amount", amount),
		zap.Int64("platform_fee", platformFee))
	return created, nil
}

// Process runs the intent through processing to its terminal state. On
// success it completes the offer, decrements the listing quantity, and
// flips the listing to SOLD at zero. Each transition appends to the
// timeline; an intent not in requires_payment_method is rejected without
// touching the timeline.
func (s *Service) Process(ctx context.Context, intentId string) (*models.PaymentIntent, error) {
	intent, err := s.store.GetPaymentIntentById(ctx, intentId)
	if err != nil {
		return nil, err
	}
	if intent.Status != models.PaymentStatusRequiresPaymentMethod {
		return nil, store.E(store.KindInvalidState, "payment intent %s is %s, only %s intents can be processed",
			intentId, intent.Status, models.PaymentStatusRequiresPaymentMethod)
	}

	intent, err = s.transition(ctx, intent, models.PaymentStatusProcessing, "")
	if err != nil {
		return nil, err
	}

	// Simulated settlement latency.
	if s.cfg.ProcessingDelay > 0 {
		select {
		case <-time.After(s.cfg.ProcessingDelay):
		case <-ctx.Done():
			return nil, store.Wrap(store.KindRemoteTimeout, ctx.Err(), "canceled while processing payment")
		}
	}

	if !s.outcome() {
		intent, err = s.transition(ctx, intent, models.PaymentStatusFailed, "card_declined")
		if err != nil {
			return nil, err
		}
		zap.L().Info("Payment failed", zap.String("intent_id", intentId))
		return intent, nil
	}

	intent, err = s.transition(ctx, intent, models.PaymentStatusSucceeded, "")
	if err != nil {
		return nil, err
	}

	if err := s.settle(ctx, intent); err != nil {
		// The intent itself succeeded; settlement follow-ups are surfaced so
		// the caller can reconcile, mirroring the accept fan-out contract.
		return intent, store.Wrap(store.KindPartialFanout, err,
			"payment %s succeeded but follow-up writes failed", intentId)
	}

	zap.L().Info("Payment succeeded",
		zap.String("intent_id", intentId),
		zap.String("offer_id", intent.OfferId))
	return intent, nil
}

// settle applies the success side effects: offer COMPLETED, listing
// quantity decremented (SOLD at zero), seller sale count incremented.
func (s *Service) settle(ctx context.Context, intent *models.PaymentIntent) error {
	offer, err := s.store.GetOfferById(ctx, intent.OfferId)
	if err != nil {
		return err
	}
	if _, err := s.store.UpdateOfferStatus(ctx, offer.Id, models.OfferStatusCompleted); err != nil {
		return err
	}

	listing, err := s.store.GetListingById(ctx, intent.ListingId)
	if err != nil {
		return err
	}
	quantity := listing.Quantity - offer.Quantity
	if quantity < 0 {
		quantity = 0
	}
	patch := store.ListingPatch{Quantity: &quantity}
	if quantity == 0 {
		status := models.ListingStatusSold
		patch.Status = &status
	}
	if _, err := s.store.UpdateListing(ctx, listing.Id, patch); err != nil {
		return err
	}

	seller, err := s.store.GetUserById(ctx, listing.SellerId)
	if err != nil {
		return err
	}
	totalSales := seller.TotalSales + 1
	if _, err := s.store.UpdateUser(ctx, seller.Id, store.UserPatch{TotalSales: &totalSales}); err != nil {
		return err
	}
	return nil
}

// Cancel voids a failed intent so the buyer can retry with a fresh one.
// Failed intents are never reused.
func (s *Service) Cancel(ctx context.Context, auth models.AuthContext, intentId string) (*models.PaymentIntent, error) {
	intent, err := s.store.GetPaymentIntentById(ctx, intentId)
	if err != nil {
		return nil, err
	}
	if intent.BuyerId != auth.UserId {
		return nil, store.E(store.KindUnauthorized, "user %s is not the buyer on intent %s", auth.UserId, intentId)
	}
	if !intent.Status.CanTransitionTo(models.PaymentStatusCanceled) {
		return nil, store.E(store.KindInvalidState, "payment intent %s is %s and cannot be canceled", intentId, intent.Status)
	}
	return s.transition(ctx, intent, models.PaymentStatusCanceled, "")
}

// GetStatus returns the intent including its full timeline for audit.
func (s *Service) GetStatus(ctx context.Context, intentId string) (*models.PaymentIntent, error) {
	return s.store.GetPaymentIntentById(ctx, intentId)
}

// transition appends the next status to the timeline and persists both.
// Status never regresses: invalid successors are rejected before any write.
func (s *Service) transition(ctx context.Context, intent *models.PaymentIntent, next models.PaymentStatus, failureReason string) (*models.PaymentIntent, error) {
	if !intent.Status.CanTransitionTo(next) {
		return nil, store.E(store.KindInvalidState, "payment intent %s cannot move from %s to %s", intent.Id, intent.Status, next)
	}

	timeline := append(append([]models.TimelineEntry(nil), intent.Timeline...),
		models.TimelineEntry{Status: next, At: s.now()})
	patch := store.PaymentIntentPatch{Status: &next, Timeline: timeline}
	if failureReason != "" {
		patch.FailureReason = &failureReason
	}
	return s.store.UpdatePaymentIntent(ctx, intent.Id, patch)
}
