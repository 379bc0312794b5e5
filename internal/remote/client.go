// Package remote abstracts the third-party table store behind a small
// client interface. The real service assigns record ids, offers no
// transactions and no unique constraints, and caps requests at 5/second;
// everything above this package exists to compensate for that.
package remote

import (
	"context"
	"errors"
)

// Sentinel errors shared by all client implementations.
var (
	// ErrRecordNotFound means the id does not exist in the table.
	ErrRecordNotFound = errors.New("record not found")
	// ErrFilterUnsupported means the query language cannot reliably express
	// this filter (observed with link-type fields). Callers fall back to a
	// full-table scan instead of trusting an empty result.
	ErrFilterUnsupported = errors.New("filter not supported by remote query language")
	// ErrThrottled means the service rejected the call for rate reasons.
	ErrThrottled = errors.New("remote store throttled the request")
)

// Record is one row in a remote table. Fields is the provider's loose
// field-name -> value shape; numbers decode as float64.
type Record struct {
	ID     string
	Fields map[string]any
}

// Filter selects records where Field equals Value. A zero Filter matches
// every record in the table.
type Filter struct {
	Field string
	Value string
}

// Client is the transport-level contract for the remote table store.
// Implementations do not rate-limit or cache; the dispatcher and gateway
// own those concerns.
type Client interface {
	Get(ctx context.Context, table, id string) (Record, error)
	Find(ctx context.Context, table string, filter Filter) ([]Record, error)
	Insert(ctx context.Context, table string, fields map[string]any) (Record, error)
	Update(ctx context.Context, table, id string, fields map[string]any) (Record, error)
	Delete(ctx context.Context, table, id string) error
}
