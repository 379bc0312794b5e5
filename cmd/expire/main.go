// Command expire sweeps PENDING offers older than a cutoff and expires
// them. Run it from cron or a scheduler; the core itself never self-expires.
package main

import (
	"context"
	"flag"
	"time"

	"ticket-marketplace-core/internal/common"
	"ticket-marketplace-core/internal/config"
	"ticket-marketplace-core/internal/models"

	"go.uber.org/zap"
)

func main() {
	maxAge := flag.Duration("older-than", 72*time.Hour, "Expire PENDING offers older than this")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	cutoff := time.Now().Add(-*maxAge)
	zap.L().Info("Starting offer expiry sweep", zap.Time("cutoff", cutoff))

	listings, err := services.Store.GetListingsByStatus(ctx, models.ListingStatusActive)
	if err != nil {
		zap.L().Fatal("Failed to load active listings", zap.Error(err))
	}

	total := 0
	for _, listing := range listings {
		expired, err := services.Offers.ExpireStale(ctx, listing.Id, cutoff)
		if err != nil {
			zap.L().Warn("Failed to sweep listing",
				zap.String("listing_id", listing.Id), zap.Error(err))
			continue
		}
		total += len(expired)
	}

	zap.L().Info("Offer expiry sweep complete",
		zap.Int("listings_checked", len(listings)),
		zap.Int("offers_expired", total))
}
