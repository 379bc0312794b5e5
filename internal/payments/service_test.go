package payments

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ticket-marketplace-core/internal/database"
	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/offers"
	"ticket-marketplace-core/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

type testFixture struct {
	store   store.MarketStore
	seller  models.AuthContext
	buyer   models.AuthContext
	listing *models.Listing
	offer   *models.Offer
}

// setupAcceptedOffer builds a listing (qty=2, price=1000) with an ACCEPTED
// offer of 950 for one ticket, the §8 scenario baseline.
func setupAcceptedOffer(t *testing.T) (*testFixture, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	st, err := database.NewServiceWithDB(db)
	if err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}

	ctx := context.Background()
	sellerUser, err := st.CreateUser(ctx, store.CreateUserParams{AuthId: "auth-seller", Email: "s@example.com", Username: "seller"})
	if err != nil {
		t.Fatalf("Failed to create seller: %v", err)
	}
	buyerUser, err := st.CreateUser(ctx, store.CreateUserParams{AuthId: "auth-buyer", Email: "b@example.com", Username: "buyer"})
	if err != nil {
		t.Fatalf("Failed to create buyer: %v", err)
	}
	seller := models.AuthContext{UserId: sellerUser.Id, Username: sellerUser.Username}
	buyer := models.AuthContext{UserId: buyerUser.Id, Username: buyerUser.Username}

	listing, err := st.CreateListing(ctx, store.CreateListingParams{
		SellerId:  seller.UserId,
		Title:     "Pair of stalls tickets",
		EventName: "Midnight Parade",
		EventDate: time.Now().AddDate(0, 1, 0),
		Venue:     "Riverside Arena",
		Price:     1000,
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("Failed to create listing: %v", err)
	}

	offerSvc := offers.NewService(st)
	offer, err := offerSvc.Create(ctx, buyer, offers.CreateParams{ListingId: listing.Id, Price: 950, Quantity: 1})
	if err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}
	if _, err := offerSvc.Accept(ctx, seller, offer.Id); err != nil {
		t.Fatalf("Failed to accept offer: %v", err)
	}

	return &testFixture{
		store:   st,
		seller:  seller,
		buyer:   buyer,
		listing: listing,
		offer:   offer,
	}, func() { db.Close() }
}

func alwaysSucceed() bool { return true }
func alwaysFail() bool    { return false }

func testConfig() models.PaymentsConfig {
	return models.PaymentsConfig{FeePercent: 6, ProcessingDelay: 0}
}

func TestComputeFee(t *testing.T) {
	tests := []struct {
		amount     int64
		feePercent float64
		wantFee    int64
		wantSeller int64
	}{
		{950, 6, 57, 893},
		{1000, 6, 60, 940},
		{999, 2.5, 25, 974}, // 24.975 rounds half-up
		{100, 0, 0, 100},
		{1, 6, 0, 1}, // 0.06 rounds down
	}
	for _, tt := range tests {
		fee, sellerAmount := computeFee(tt.amount, tt.feePercent)
		if fee != tt.wantFee || sellerAmount != tt.wantSeller {
			t.Errorf("computeFee(%d, %v) = (%d, %d), want (%d, %d)",
				tt.amount, tt.feePercent, fee, sellerAmount, tt.wantFee, tt.wantSeller)
		}
	}
}

func TestSuccessfulPaymentCompletesSale(t *testing.T) {
	f, cleanup := setupAcceptedOffer(t)
	defer cleanup()
	ctx := context.Background()

	svc := NewService(f.store, testConfig(), WithOutcome(alwaysSucceed))

	intent, err := svc.CreateIntent(ctx, f.buyer, f.offer.Id)
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if intent.Amount != 950 || intent.PlatformFee != 57 || intent.SellerAmount != 893 {
		t.Errorf("Expected 950/57/893 split, got %d/%d/%d", intent.Amount, intent.PlatformFee, intent.SellerAmount)
	}
	if intent.Status != models.PaymentStatusRequiresPaymentMethod {
		t.Errorf("Expected initial status requires_payment_method, got %s", intent.Status)
	}

	intent, err = svc.Process(ctx, intent.Id)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if intent.Status != models.PaymentStatusSucceeded {
		t.Fatalf("Expected succeeded, got %s", intent.Status)
	}

	offer, err := f.store.GetOfferById(ctx, f.offer.Id)
	if err != nil {
		t.Fatalf("GetOfferById failed: %v", err)
	}
	if offer.Status != models.OfferStatusCompleted {
		t.Errorf("Expected offer COMPLETED, got %s", offer.Status)
	}

	listing, err := f.store.GetListingById(ctx, f.listing.Id)
	if err != nil {
		t.Fatalf("GetListingById failed: %v", err)
	}
	if listing.Quantity != 1 {
		t.Errorf("Expected quantity 2->1, got %d", listing.Quantity)
	}
	if listing.Status != models.ListingStatusActive {
		t.Errorf("Expected listing still ACTIVE with quantity left, got %s", listing.Status)
	}

	seller, err := f.store.GetUserById(ctx, f.seller.UserId)
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if seller.TotalSales != 1 {
		t.Errorf("Expected seller total sales 1, got %d", seller.TotalSales)
	}
}

func TestSellingOutFlipsListingToSold(t *testing.T) {
	f, cleanup := setupAcceptedOffer(t)
	defer cleanup()
	ctx := context.Background()

	// Shrink the listing so this one sale clears the stock.
	qty := 1
	if _, err := f.store.UpdateListing(ctx, f.listing.Id, store.ListingPatch{Quantity: &qty}); err != nil {
		t.Fatalf("UpdateListing failed: %v", err)
	}

	svc := NewService(f.store, testConfig(), WithOutcome(alwaysSucceed))
	intent, err := svc.CreateIntent(ctx, f.buyer, f.offer.Id)
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if _, err := svc.Process(ctx, intent.Id); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	listing, err := f.store.GetListingById(ctx, f.listing.Id)
	if err != nil {
		t.Fatalf("GetListingById failed: %v", err)
	}
	if listing.Quantity != 0 || listing.Status != models.ListingStatusSold {
		t.Errorf("Expected SOLD at quantity 0, got %s / %d", listing.Status, listing.Quantity)
	}
}

func TestProcessTwiceReturnsInvalidStateWithoutTimelineGrowth(t *testing.T) {
	f, cleanup := setupAcceptedOffer(t)
	defer cleanup()
	ctx := context.Background()

	svc := NewService(f.store, testConfig(), WithOutcome(alwaysSucceed))
	intent, err := svc.CreateIntent(ctx, f.buyer, f.offer.Id)
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	intent, err = svc.Process(ctx, intent.Id)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	timelineLen := len(intent.Timeline)

	_, err = svc.Process(ctx, intent.Id)
	if !store.IsKind(err, store.KindInvalidState) {
		t.Fatalf("Expected InvalidState on second process, got %v", err)
	}

	reloaded, err := svc.GetStatus(ctx, intent.Id)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if len(reloaded.Timeline) != timelineLen {
		t.Errorf("Expected timeline unchanged at %d entries, got %d", timelineLen, len(reloaded.Timeline))
	}
}

func TestTimelineIsMonotonic(t *testing.T) {
	f, cleanup := setupAcceptedOffer(t)
	defer cleanup()
	ctx := context.Background()

	svc := NewService(f.store, testConfig(), WithOutcome(alwaysSucceed))
	intent, err := svc.CreateIntent(ctx, f.buyer, f.offer.Id)
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	intent, err = svc.Process(ctx, intent.Id)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := []models.PaymentStatus{
		models.PaymentStatusRequiresPaymentMethod,
		models.PaymentStatusProcessing,
		models.PaymentStatusSucceeded,
	}
	if len(intent.Timeline) != len(want) {
		t.Fatalf("Expected %d timeline entries, got %d", len(want), len(intent.Timeline))
	}
	for i, entry := range intent.Timeline {
		if entry.Status != want[i] {
			t.Errorf("Timeline[%d] = %s, want %s", i, entry.Status, want[i])
		}
		if i > 0 && !intent.Timeline[i-1].Status.CanTransitionTo(entry.Status) {
			t.Errorf("Timeline[%d] %s is not a valid successor of %s", i, entry.Status, intent.Timeline[i-1].Status)
		}
	}
}

func TestFailedPaymentRetriedViaCancelAndNewIntent(t *testing.T) {
	f, cleanup := setupAcceptedOffer(t)
	defer cleanup()
	ctx := context.Background()

	failing := NewService(f.store, testConfig(), WithOutcome(alwaysFail))
	intent, err := failing.CreateIntent(ctx, f.buyer, f.offer.Id)
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	intent, err = failing.Process(ctx, intent.Id)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if intent.Status != models.PaymentStatusFailed {
		t.Fatalf("Expected failed, got %s", intent.Status)
	}
	if intent.FailureReason == "" {
		t.Error("Expected a failure reason on a failed intent")
	}

	// The failed intent is never reused and blocks a new one until canceled.
	if _, err := failing.CreateIntent(ctx, f.buyer, f.offer.Id); !store.IsKind(err, store.KindInvalidState) {
		t.Fatalf("Expected InvalidState while failed intent exists, got %v", err)
	}
	if _, err := failing.Cancel(ctx, f.seller, intent.Id); !store.IsKind(err, store.KindUnauthorized) {
		t.Fatalf("Expected Unauthorized for non-buyer cancel, got %v", err)
	}

	canceled, err := failing.Cancel(ctx, f.buyer, intent.Id)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if canceled.Status != models.PaymentStatusCanceled {
		t.Errorf("Expected canceled, got %s", canceled.Status)
	}

	succeeding := NewService(f.store, testConfig(), WithOutcome(alwaysSucceed))
	fresh, err := succeeding.CreateIntent(ctx, f.buyer, f.offer.Id)
	if err != nil {
		t.Fatalf("CreateIntent after cancel failed: %v", err)
	}
	if fresh.Id == intent.Id {
		t.Error("Expected a fresh intent, got the failed one reused")
	}
	if _, err := succeeding.Process(ctx, fresh.Id); err != nil {
		t.Fatalf("Process of fresh intent failed: %v", err)
	}
}

func TestCreateIntentGuards(t *testing.T) {
	f, cleanup := setupAcceptedOffer(t)
	defer cleanup()
	ctx := context.Background()

	svc := NewService(f.store, testConfig(), WithOutcome(alwaysSucceed))

	// Only the buyer on the offer may pay.
	if _, err := svc.CreateIntent(ctx, f.seller, f.offer.Id); !store.IsKind(err, store.KindUnauthorized) {
		t.Fatalf("Expected Unauthorized, got %v", err)
	}

	// A PENDING offer cannot be paid.
	offerSvc := offers.NewService(f.store)
	pending, err := offerSvc.Create(ctx, f.buyer, offers.CreateParams{ListingId: f.listing.Id, Price: 800, Quantity: 1})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.CreateIntent(ctx, f.buyer, pending.Id); !store.IsKind(err, store.KindInvalidState) {
		t.Fatalf("Expected InvalidState for pending offer, got %v", err)
	}

	// Double-pay: a live intent blocks a second one.
	if _, err := svc.CreateIntent(ctx, f.buyer, f.offer.Id); err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if _, err := svc.CreateIntent(ctx, f.buyer, f.offer.Id); !store.IsKind(err, store.KindInvalidState) {
		t.Fatalf("Expected InvalidState for duplicate intent, got %v", err)
	}
}

func TestCancelSucceededIntentRejected(t *testing.T) {
	f, cleanup := setupAcceptedOffer(t)
	defer cleanup()
	ctx := context.Background()

	svc := NewService(f.store, testConfig(), WithOutcome(alwaysSucceed))
	intent, err := svc.CreateIntent(ctx, f.buyer, f.offer.Id)
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if _, err := svc.Process(ctx, intent.Id); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if _, err := svc.Cancel(ctx, f.buyer, intent.Id); !store.IsKind(err, store.KindInvalidState) {
		t.Fatalf("Expected InvalidState canceling a succeeded intent, got %v", err)
	}
}
