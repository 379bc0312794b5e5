package tablestore

import (
	"context"
	"testing"
	"time"

	"ticket-marketplace-core/internal/cache"
	"ticket-marketplace-core/internal/dispatch"
	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/remote"
	"ticket-marketplace-core/internal/store"
)

func setupTestService(t *testing.T) (*Service, *remote.MemoryClient, *time.Time, func()) {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	client := remote.NewMemoryClient()
	dispatcher := dispatch.New(models.DispatcherConfig{
		RequestsPerSecond: 1000,
		Burst:             1,
		QueueSize:         256,
		CallTimeout:       time.Second,
	})
	c := cache.New(100, cache.WithClock(clock))
	svc := NewService(client, dispatcher, c, models.CacheConfig{
		MaxSize:    100,
		UserTTL:    5 * time.Minute,
		ListingTTL: time.Minute,
		OfferTTL:   30 * time.Second,
		PaymentTTL: 15 * time.Second,
	}, 10*time.Millisecond)

	return svc, client, &now, dispatcher.Close
}

func createTestListing(t *testing.T, svc *Service, sellerId string, qty int) *models.Listing {
	t.Helper()
	listing, err := svc.CreateListing(context.Background(), store.CreateListingParams{
		SellerId:  sellerId,
		Title:     "Two tickets",
		EventName: "Test Event",
		EventDate: time.Date(2025, 9, 1, 20, 0, 0, 0, time.UTC),
		Venue:     "Test Hall",
		Price:     1000,
		Quantity:  qty,
	})
	if err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	return listing
}

func TestReadYourWritesAfterUpdate(t *testing.T) {
	svc, _, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, svc, "user-seller", 2)

	// Warm the cache with the pre-update value.
	if _, err := svc.GetListingById(ctx, listing.Id); err != nil {
		t.Fatalf("GetListingById failed: %v", err)
	}

	qty := 1
	if _, err := svc.UpdateListing(ctx, listing.Id, store.ListingPatch{Quantity: &qty}); err != nil {
		t.Fatalf("UpdateListing failed: %v", err)
	}

	got, err := svc.GetListingById(ctx, listing.Id)
	if err != nil {
		t.Fatalf("GetListingById after update failed: %v", err)
	}
	if got.Quantity != 1 {
		t.Errorf("Expected quantity 1 after update, got %d (stale cache read)", got.Quantity)
	}
}

func TestCachedReadsStayUnderRequestBudget(t *testing.T) {
	svc, client, now, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, svc, "user-seller", 2)
	svc.cache.Invalidate("listing/")

	before := client.Calls()
	for i := 0; i < 6; i++ {
		if _, err := svc.GetListingById(ctx, listing.Id); err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
	}
	if calls := client.Calls() - before; calls != 1 {
		t.Fatalf("Expected 6 reads within TTL to cost exactly 1 remote call, got %d", calls)
	}

	*now = now.Add(61 * time.Second)
	if _, err := svc.GetListingById(ctx, listing.Id); err != nil {
		t.Fatalf("Read after TTL expiry failed: %v", err)
	}
	if calls := client.Calls() - before; calls != 2 {
		t.Errorf("Expected post-TTL read to cost a second remote call, got %d total", calls)
	}
}

func TestFindByLinkFieldUsesScan(t *testing.T) {
	svc, _, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	listingA := createTestListing(t, svc, "seller-a", 2)
	listingB := createTestListing(t, svc, "seller-b", 1)

	for _, buyer := range []string{"buyer-1", "buyer-2"} {
		if _, err := svc.CreateOffer(ctx, store.CreateOfferParams{
			ListingId: listingA.Id, BuyerId: buyer, Price: 900, Quantity: 1,
		}); err != nil {
			t.Fatalf("CreateOffer failed: %v", err)
		}
	}
	if _, err := svc.CreateOffer(ctx, store.CreateOfferParams{
		ListingId: listingB.Id, BuyerId: "buyer-1", Price: 800, Quantity: 1,
	}); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	offers, err := svc.GetOffersByListing(ctx, listingA.Id)
	if err != nil {
		t.Fatalf("GetOffersByListing failed: %v", err)
	}
	if len(offers) != 2 {
		t.Errorf("Expected 2 offers on listing A via scan, got %d", len(offers))
	}

	byBuyer, err := svc.GetOffersByBuyer(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("GetOffersByBuyer failed: %v", err)
	}
	if len(byBuyer) != 2 {
		t.Errorf("Expected 2 offers from buyer-1 via scan, got %d", len(byBuyer))
	}
}

func TestUnsupportedFilterFallsBackToScan(t *testing.T) {
	svc, client, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	createTestListing(t, svc, "seller-a", 2)
	listing := createTestListing(t, svc, "seller-b", 1)
	if err := svc.DelistListing(ctx, listing.Id); err != nil {
		t.Fatalf("DelistListing failed: %v", err)
	}

	// Non-link field whose native filter the remote refuses.
	client.MarkFilterUnsupported("Status")

	active, err := svc.GetListingsByStatus(ctx, models.ListingStatusActive)
	if err != nil {
		t.Fatalf("GetListingsByStatus failed: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected fallback scan to find 1 active listing, got %d", len(active))
	}
}

func TestTransientFailureRetriedOnce(t *testing.T) {
	svc, client, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, svc, "user-seller", 2)
	svc.cache.Invalidate("listing/")

	client.FailNext(1)
	got, err := svc.GetListingById(ctx, listing.Id)
	if err != nil {
		t.Fatalf("Expected single transient failure to be retried, got %v", err)
	}
	if got.Id != listing.Id {
		t.Errorf("Expected listing %s, got %s", listing.Id, got.Id)
	}
}

func TestPersistentFailureSurfacesRemoteUnavailable(t *testing.T) {
	svc, client, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	listing := createTestListing(t, svc, "user-seller", 2)
	svc.cache.Invalidate("listing/")

	client.FailNext(2)
	_, err := svc.GetListingById(ctx, listing.Id)
	if !store.IsKind(err, store.KindRemoteUnavailable) {
		t.Fatalf("Expected RemoteUnavailable after retry, got %v", err)
	}
}

func TestGetMissingRecordReturnsNotFound(t *testing.T) {
	svc, _, _, cleanup := setupTestService(t)
	defer cleanup()

	_, err := svc.GetListingById(context.Background(), "rec-missing")
	if !store.IsKind(err, store.KindNotFound) {
		t.Fatalf("Expected NotFound, got %v", err)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	svc, _, _, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	params := store.CreateUserParams{AuthId: "auth-1", Email: "a@example.com", Username: "alice"}
	if _, err := svc.CreateUser(ctx, params); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	params.AuthId = "auth-2"
	_, err := svc.CreateUser(ctx, params)
	if !store.IsKind(err, store.KindValidation) {
		t.Fatalf("Expected Validation for duplicate username, got %v", err)
	}
}
