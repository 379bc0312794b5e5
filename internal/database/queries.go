package database

// Query constants for the sqlite backend.
const (
	queryInsertUser = `
		INSERT INTO users (id, auth_id, email, username, rating, verified, total_sales, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, 0, 1, ?, ?)`

	querySelectUser = `
		SELECT id, auth_id, email, username, rating, verified, total_sales, active, created_at, updated_at
		FROM users`

	queryInsertListing = `
		INSERT INTO listings (id, seller_id, title, event_name, event_date, venue, price, quantity, status, views, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`

	querySelectListing = `
		SELECT id, seller_id, title, event_name, event_date, venue, price, quantity, status, views, created_at, updated_at
		FROM listings`

	queryIncrementViews = `
		UPDATE listings SET views = views + 1, updated_at = ? WHERE id = ?`

	queryInsertOffer = `
		INSERT INTO offers (id, listing_id, buyer_id, price, quantity, status, message_tag, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	querySelectOffer = `
		SELECT id, listing_id, buyer_id, price, quantity, status, message_tag, message, created_at, updated_at
		FROM offers`

	queryUpdateOfferStatus = `
		UPDATE offers SET status = ?, updated_at = ? WHERE id = ?`

	queryInsertIntent = `
		INSERT INTO payment_intents (id, offer_id, listing_id, buyer_id, seller_id, amount, platform_fee, seller_amount, status, timeline, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	querySelectIntent = `
		SELECT id, offer_id, listing_id, buyer_id, seller_id, amount, platform_fee, seller_amount, status, timeline, failure_reason, created_at, updated_at
		FROM payment_intents`
)
