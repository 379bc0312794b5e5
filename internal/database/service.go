// Package database implements store.MarketStore on sqlite, the relational
// alternative to the hosted table backend. It needs neither the dispatcher
// nor the entity cache: the driver pools connections and reads are local.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.MarketStore.
var _ store.MarketStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	if cfg.Path == "" {
		return nil, store.E(store.KindConfiguration, "database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, store.E(store.KindConfiguration, "max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, store.E(store.KindConfiguration, "ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceWithDB wraps an existing handle. Used by tests with :memory:.
func NewServiceWithDB(db *sql.DB) (*Service, error) {
	service := &Service{db: db}
	if err := service.initSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		auth_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		username TEXT NOT NULL UNIQUE,
		rating REAL NOT NULL DEFAULT 0,
		verified BOOLEAN NOT NULL DEFAULT 0,
		total_sales INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_auth_id ON users(auth_id);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL REFERENCES users(id),
		title TEXT NOT NULL,
		event_name TEXT NOT NULL,
		event_date TIMESTAMP,
		venue TEXT,
		price INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		status TEXT NOT NULL,
		views INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings(seller_id);
	CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);

	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(id),
		buyer_id TEXT NOT NULL REFERENCES users(id),
		price INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		status TEXT NOT NULL,
		message_tag TEXT,
		message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offers_listing ON offers(listing_id);
	CREATE INDEX IF NOT EXISTS idx_offers_buyer ON offers(buyer_id);
	CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status);

	CREATE TABLE IF NOT EXISTS payment_intents (
		id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL REFERENCES offers(id),
		listing_id TEXT NOT NULL REFERENCES listings(id),
		buyer_id TEXT NOT NULL REFERENCES users(id),
		seller_id TEXT NOT NULL REFERENCES users(id),
		amount INTEGER NOT NULL,
		platform_fee INTEGER NOT NULL,
		seller_amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		timeline TEXT NOT NULL DEFAULT '[]',
		failure_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_intents_offer ON payment_intents(offer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Users ---

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.Id, &u.AuthId, &u.Email, &u.Username, &u.Rating, &u.Verified,
		&u.TotalSales, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) getUserWhere(ctx context.Context, clause string, arg any) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, querySelectUser+" WHERE "+clause, arg)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.E(store.KindNotFound, "user not found (%s)", clause)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query user: %w", err)
	}
	return user, nil
}

func (s *Service) GetUserById(ctx context.Context, id string) (*models.User, error) {
	return s.getUserWhere(ctx, "id = ?", id)
}

func (s *Service) GetUserByAuthId(ctx context.Context, authId string) (*models.User, error) {
	return s.getUserWhere(ctx, "auth_id = ?", authId)
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUserWhere(ctx, "username = ?", username)
}

func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	if params.AuthId == "" || params.Username == "" {
		return nil, store.E(store.KindValidation, "auth id and username are required")
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, queryInsertUser, id, params.AuthId, params.Email, params.Username, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, store.E(store.KindValidation, "username %q is already taken", params.Username)
		}
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}
	return s.GetUserById(ctx, id)
}

func (s *Service) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*models.User, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Rating != nil {
		sets = append(sets, "rating = ?")
		args = append(args, *patch.Rating)
	}
	if patch.Verified != nil {
		sets = append(sets, "verified = ?")
		args = append(args, *patch.Verified)
	}
	if patch.TotalSales != nil {
		sets = append(sets, "total_sales = ?")
		args = append(args, *patch.TotalSales)
	}
	if patch.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *patch.Active)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("unable to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.E(store.KindNotFound, "user %s not found", id)
	}
	return s.GetUserById(ctx, id)
}

// --- Listings ---

func scanListing(row interface{ Scan(...any) error }) (*models.Listing, error) {
	var l models.Listing
	var eventDate, venue sql.NullString
	err := row.Scan(&l.Id, &l.SellerId, &l.Title, &l.EventName, &eventDate, &venue,
		&l.Price, &l.Quantity, &l.Status, &l.Views, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if eventDate.Valid {
		l.EventDate, _ = time.Parse(time.RFC3339, eventDate.String)
	}
	l.Venue = venue.String
	return &l, nil
}

func (s *Service) CreateListing(ctx context.Context, params store.CreateListingParams) (*models.Listing, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, queryInsertListing, id, params.SellerId, params.Title,
		params.EventName, params.EventDate.UTC().Format(time.RFC3339), params.Venue,
		params.Price, params.Quantity, string(models.ListingStatusActive), now, now)
	if err != nil {
		return nil, fmt.Errorf("unable to insert listing: %w", err)
	}
	return s.GetListingById(ctx, id)
}

func (s *Service) GetListingById(ctx context.Context, id string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, querySelectListing+" WHERE id = ?", id)
	listing, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.E(store.KindNotFound, "listing %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query listing: %w", err)
	}
	return listing, nil
}

func (s *Service) listListingsWhere(ctx context.Context, clause string, arg any) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, querySelectListing+" WHERE "+clause+" ORDER BY created_at", arg)
	if err != nil {
		return nil, fmt.Errorf("unable to query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan listing: %w", err)
		}
		listings = append(listings, *listing)
	}
	return listings, rows.Err()
}

func (s *Service) GetListingsBySeller(ctx context.Context, sellerId string) ([]models.Listing, error) {
	return s.listListingsWhere(ctx, "seller_id = ?", sellerId)
}

func (s *Service) GetListingsByStatus(ctx context.Context, status models.ListingStatus) ([]models.Listing, error) {
	return s.listListingsWhere(ctx, "status = ?", string(status))
}

func (s *Service) UpdateListing(ctx context.Context, id string, patch store.ListingPatch) (*models.Listing, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Quantity != nil {
		sets = append(sets, "quantity = ?")
		args = append(args, *patch.Quantity)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *patch.Price)
	}
	if patch.Views != nil {
		sets = append(sets, "views = ?")
		args = append(args, *patch.Views)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE listings SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("unable to update listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.E(store.KindNotFound, "listing %s not found", id)
	}
	return s.GetListingById(ctx, id)
}

func (s *Service) IncrementListingViews(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, queryIncrementViews, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("unable to increment views: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.E(store.KindNotFound, "listing %s not found", id)
	}
	return nil
}

func (s *Service) DelistListing(ctx context.Context, id string) error {
	status := models.ListingStatusDelisted
	_, err := s.UpdateListing(ctx, id, store.ListingPatch{Status: &status})
	return err
}

// --- Offers ---

func scanOffer(row interface{ Scan(...any) error }) (*models.Offer, error) {
	var o models.Offer
	var tag, message sql.NullString
	err := row.Scan(&o.Id, &o.ListingId, &o.BuyerId, &o.Price, &o.Quantity, &o.Status,
		&tag, &message, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.MessageTag = tag.String
	o.Message = message.String
	return &o, nil
}

func (s *Service) CreateOffer(ctx context.Context, params store.CreateOfferParams) (*models.Offer, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, queryInsertOffer, id, params.ListingId, params.BuyerId,
		params.Price, params.Quantity, string(models.OfferStatusPending),
		params.MessageTag, params.Message, now, now)
	if err != nil {
		return nil, fmt.Errorf("unable to insert offer: %w", err)
	}
	return s.GetOfferById(ctx, id)
}

func (s *Service) GetOfferById(ctx context.Context, id string) (*models.Offer, error) {
	row := s.db.QueryRowContext(ctx, querySelectOffer+" WHERE id = ?", id)
	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.E(store.KindNotFound, "offer %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query offer: %w", err)
	}
	return offer, nil
}

func (s *Service) listOffersWhere(ctx context.Context, clause string, arg any) ([]models.Offer, error) {
	rows, err := s.db.QueryContext(ctx, querySelectOffer+" WHERE "+clause+" ORDER BY created_at", arg)
	if err != nil {
		return nil, fmt.Errorf("unable to query offers: %w", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan offer: %w", err)
		}
		offers = append(offers, *offer)
	}
	return offers, rows.Err()
}

func (s *Service) GetOffersByListing(ctx context.Context, listingId string) ([]models.Offer, error) {
	return s.listOffersWhere(ctx, "listing_id = ?", listingId)
}

func (s *Service) GetOffersByBuyer(ctx context.Context, buyerId string) ([]models.Offer, error) {
	return s.listOffersWhere(ctx, "buyer_id = ?", buyerId)
}

func (s *Service) UpdateOfferStatus(ctx context.Context, id string, status models.OfferStatus) (*models.Offer, error) {
	res, err := s.db.ExecContext(ctx, queryUpdateOfferStatus, string(status), time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("unable to update offer status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.E(store.KindNotFound, "offer %s not found", id)
	}
	return s.GetOfferById(ctx, id)
}

// --- Payment intents ---

func scanIntent(row interface{ Scan(...any) error }) (*models.PaymentIntent, error) {
	var p models.PaymentIntent
	var timeline string
	var failureReason sql.NullString
	err := row.Scan(&p.Id, &p.OfferId, &p.ListingId, &p.BuyerId, &p.SellerId,
		&p.Amount, &p.PlatformFee, &p.SellerAmount, &p.Status, &timeline,
		&failureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if timeline != "" {
		_ = json.Unmarshal([]byte(timeline), &p.Timeline)
	}
	p.FailureReason = failureReason.String
	return &p, nil
}

func (s *Service) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	timeline, err := json.Marshal(intent.Timeline)
	if err != nil {
		return nil, store.Wrap(store.KindValidation, err, "invalid timeline")
	}

	id := intent.Id
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, queryInsertIntent, id, intent.OfferId, intent.ListingId,
		intent.BuyerId, intent.SellerId, intent.Amount, intent.PlatformFee, intent.SellerAmount,
		string(intent.Status), string(timeline), intent.FailureReason, now, now)
	if err != nil {
		return nil, fmt.Errorf("unable to insert payment intent: %w", err)
	}
	return s.GetPaymentIntentById(ctx, id)
}

func (s *Service) GetPaymentIntentById(ctx context.Context, id string) (*models.PaymentIntent, error) {
	row := s.db.QueryRowContext(ctx, querySelectIntent+" WHERE id = ?", id)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.E(store.KindNotFound, "payment intent %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query payment intent: %w", err)
	}
	return intent, nil
}

func (s *Service) GetPaymentIntentsByOffer(ctx context.Context, offerId string) ([]models.PaymentIntent, error) {
	rows, err := s.db.QueryContext(ctx, querySelectIntent+" WHERE offer_id = ? ORDER BY created_at", offerId)
	if err != nil {
		return nil, fmt.Errorf("unable to query payment intents: %w", err)
	}
	defer rows.Close()

	var intents []models.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan payment intent: %w", err)
		}
		intents = append(intents, *intent)
	}
	return intents, rows.Err()
}

func (s *Service) UpdatePaymentIntent(ctx context.Context, id string, patch store.PaymentIntentPatch) (*models.PaymentIntent, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Timeline != nil {
		timeline, err := json.Marshal(patch.Timeline)
		if err != nil {
			return nil, store.Wrap(store.KindValidation, err, "invalid timeline")
		}
		sets = append(sets, "timeline = ?")
		args = append(args, string(timeline))
	}
	if patch.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, *patch.FailureReason)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE payment_intents SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("unable to update payment intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.E(store.KindNotFound, "payment intent %s not found", id)
	}
	return s.GetPaymentIntentById(ctx, id)
}
