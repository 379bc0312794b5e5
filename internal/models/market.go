package models

import "time"

// ListingStatus represents lifecycle states for a ticket listing.
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "ACTIVE"
	ListingStatusInactive ListingStatus = "INACTIVE"
	ListingStatusSold     ListingStatus = "SOLD"
	ListingStatusDelisted ListingStatus = "DELISTED"
)

// OfferStatus represents lifecycle states for a buyer's offer.
type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "PENDING"
	OfferStatusAccepted  OfferStatus = "ACCEPTED"
	OfferStatusRejected  OfferStatus = "REJECTED"
	OfferStatusExpired   OfferStatus = "EXPIRED"
	OfferStatusCompleted OfferStatus = "COMPLETED"
)

// Terminal reports whether no further transition is allowed from this status.
// ACCEPTED is not terminal: it still moves to COMPLETED when payment settles.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferStatusRejected, OfferStatusExpired, OfferStatusCompleted:
		return true
	}
	return false
}

// PaymentStatus follows the provider-style intent lifecycle.
type PaymentStatus string

const (
	PaymentStatusRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	PaymentStatusProcessing            PaymentStatus = "processing"
	PaymentStatusSucceeded             PaymentStatus = "succeeded"
	PaymentStatusFailed                PaymentStatus = "failed"
	PaymentStatusCanceled              PaymentStatus = "canceled"
)

// CanTransitionTo reports whether next is a valid successor of s.
// The lifecycle is a single forward path with one branch; a failed intent
// may only move to canceled (when the buyer retries with a fresh intent).
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusRequiresPaymentMethod:
		return next == PaymentStatusProcessing
	case PaymentStatusProcessing:
		return next == PaymentStatusSucceeded || next == PaymentStatusFailed
	case PaymentStatusFailed:
		return next == PaymentStatusCanceled
	}
	return false
}

// User represents a marketplace participant. Users are created on first
// authenticated access and soft-disabled rather than deleted.
type User struct {
	Id         string    `db:"id"`
	AuthId     string    `db:"auth_id"`
	Email      string    `db:"email"`
	Username   string    `db:"username"`
	Rating     float64   `db:"rating"`
	Verified   bool      `db:"verified"`
	TotalSales int       `db:"total_sales"`
	Active     bool      `db:"active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Listing represents tickets for sale. Price is in integer minor currency
// units. Quantity is decremented on completed sales only, never on accept.
type Listing struct {
	Id        string        `db:"id"`
	SellerId  string        `db:"seller_id"`
	Title     string        `db:"title"`
	EventName string        `db:"event_name"`
	EventDate time.Time     `db:"event_date"`
	Venue     string        `db:"venue"`
	Price     int64         `db:"price"`
	Quantity  int           `db:"quantity"`
	Status    ListingStatus `db:"status"`
	Views     int64         `db:"views"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}

// Offer represents a buyer's bid against an active listing.
type Offer struct {
	Id         string      `db:"id"`
	ListingId  string      `db:"listing_id"`
	BuyerId    string      `db:"buyer_id"`
	Price      int64       `db:"price"`
	Quantity   int         `db:"quantity"`
	Status     OfferStatus `db:"status"`
	MessageTag string      `db:"message_tag"`
	Message    string      `db:"message"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

// TimelineEntry records one status change on a payment intent.
type TimelineEntry struct {
	Status PaymentStatus `json:"status"`
	At     time.Time     `json:"at"`
}

// PaymentIntent tracks a single payment attempt for an accepted offer.
// The timeline is append-only so the full lifecycle stays reconstructable.
type PaymentIntent struct {
	Id            string          `db:"id"`
	OfferId       string          `db:"offer_id"`
	ListingId     string          `db:"listing_id"`
	BuyerId       string          `db:"buyer_id"`
	SellerId      string          `db:"seller_id"`
	Amount        int64           `db:"amount"`
	PlatformFee   int64           `db:"platform_fee"`
	SellerAmount  int64           `db:"seller_amount"`
	Status        PaymentStatus   `db:"status"`
	Timeline      []TimelineEntry `db:"timeline"`
	FailureReason string          `db:"failure_reason"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// AuthContext identifies the acting user on lifecycle calls. It is produced
// by the authentication collaborator outside this core.
type AuthContext struct {
	UserId   string
	Username string
}
