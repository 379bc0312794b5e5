// Command simulate runs a full marketplace flow against the in-memory table
// client: two buyers bid on a listing, the seller accepts one offer, and the
// winning buyer pays. Useful for eyeballing the core without a hosted base.
package main

import (
	"context"
	"time"

	"ticket-marketplace-core/internal/common"
	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/offers"
	"ticket-marketplace-core/internal/store"

	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg := &models.Config{
		Backend: models.BackendTable,
		Remote:  models.RemoteConfig{RetryDelay: 100 * time.Millisecond},
		Dispatcher: models.DispatcherConfig{
			RequestsPerSecond: 5,
			Burst:             1,
			QueueSize:         256,
			CallTimeout:       10 * time.Second,
		},
		Cache: models.CacheConfig{
			MaxSize:    1000,
			UserTTL:    5 * time.Minute,
			ListingTTL: time.Minute,
			OfferTTL:   30 * time.Second,
			PaymentTTL: 15 * time.Second,
		},
		Payments: models.PaymentsConfig{
			FeePercent:      6,
			MockFailureRate: 0,
			ProcessingDelay: 500 * time.Millisecond,
		},
	}

	services, client := common.InitializeMemoryServices(cfg)
	defer services.Close()

	ctx := context.Background()

	seller, err := store.EnsureUser(ctx, services.Store, store.CreateUserParams{
		AuthId: "auth-seller", Email: "seller@example.com", Username: "seller",
	})
	if err != nil {
		zap.L().Fatal("Failed to create seller", zap.Error(err))
	}
	buyer1, err := store.EnsureUser(ctx, services.Store, store.CreateUserParams{
		AuthId: "auth-buyer1", Email: "buyer1@example.com", Username: "buyer1",
	})
	if err != nil {
		zap.L().Fatal("Failed to create buyer1", zap.Error(err))
	}
	buyer2, err := store.EnsureUser(ctx, services.Store, store.CreateUserParams{
		AuthId: "auth-buyer2", Email: "buyer2@example.com", Username: "buyer2",
	})
	if err != nil {
		zap.L().Fatal("Failed to create buyer2", zap.Error(err))
	}

	listing, err := services.Store.CreateListing(ctx, store.CreateListingParams{
		SellerId:  seller.Id,
		Title:     "Pair of stalls tickets",
		EventName: "Midnight Parade",
		EventDate: time.Now().AddDate(0, 1, 0),
		Venue:     "Riverside Arena",
		Price:     1000,
		Quantity:  2,
	})
	if err != nil {
		zap.L().Fatal("Failed to create listing", zap.Error(err))
	}

	sellerAuth := models.AuthContext{UserId: seller.Id, Username: seller.Username}
	buyer1Auth := models.AuthContext{UserId: buyer1.Id, Username: buyer1.Username}
	buyer2Auth := models.AuthContext{UserId: buyer2.Id, Username: buyer2.Username}

	offer1, err := services.Offers.Create(ctx, buyer1Auth, offers.CreateParams{
		ListingId: listing.Id, Price: 900, Quantity: 1,
	})
	if err != nil {
		zap.L().Fatal("Failed to create first offer", zap.Error(err))
	}
	offer2, err := services.Offers.Create(ctx, buyer2Auth, offers.CreateParams{
		ListingId: listing.Id, Price: 950, Quantity: 1,
	})
	if err != nil {
		zap.L().Fatal("Failed to create second offer", zap.Error(err))
	}

	result, err := services.Offers.Accept(ctx, sellerAuth, offer2.Id)
	if err != nil {
		zap.L().Fatal("Failed to accept offer", zap.Error(err))
	}
	zap.L().Info("Seller accepted offer",
		zap.String("accepted", result.Offer.Id),
		zap.Strings("rejected", result.RejectedOfferIds))

	intent, err := services.Payments.CreateIntent(ctx, buyer2Auth, offer2.Id)
	if err != nil {
		zap.L().Fatal("Failed to create payment intent", zap.Error(err))
	}
	intent, err = services.Payments.Process(ctx, intent.Id)
	if err != nil {
		zap.L().Fatal("Failed to process payment", zap.Error(err))
	}

	finalListing, err := services.Store.GetListingById(ctx, listing.Id)
	if err != nil {
		zap.L().Fatal("Failed to reload listing", zap.Error(err))
	}
	rejected, _ := services.Store.GetOfferById(ctx, offer1.Id)

	zap.L().Info("Simulation complete",
		zap.String("intent_status", string(intent.Status)),
		zap.Int64("platform_fee", intent.PlatformFee),
		zap.Int64("seller_amount", intent.SellerAmount),
		zap.String("losing_offer_status", string(rejected.Status)),
		zap.Int("listing_quantity", finalListing.Quantity),
		zap.String("listing_status", string(finalListing.Status)),
		zap.Int64("remote_calls", client.Calls()))
}
