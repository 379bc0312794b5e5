package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryClient is an in-process Client for tests and the simulator. It
// mimics the remote service's quirks on demand: per-call latency, injected
// failures, and filters it refuses to evaluate (link-style fields).
type MemoryClient struct {
	mu      sync.Mutex
	tables  map[string]map[string]map[string]any
	nextID  int64
	latency time.Duration

	// fields whose equality filters return ErrFilterUnsupported
	unsupportedFilters map[string]bool

	failNext  atomic.Int32
	callCount atomic.Int64
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		tables:             make(map[string]map[string]map[string]any),
		unsupportedFilters: make(map[string]bool),
	}
}

// SetLatency makes every call sleep, modeling network round trips.
func (m *MemoryClient) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// MarkFilterUnsupported makes Find on the given field fail with
// ErrFilterUnsupported, exercising the gateway's scan fallback.
func (m *MemoryClient) MarkFilterUnsupported(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsupportedFilters[field] = true
}

// FailNext makes the next n calls return ErrThrottled.
func (m *MemoryClient) FailNext(n int) {
	m.failNext.Store(int32(n))
}

// Calls returns how many client calls have been issued.
func (m *MemoryClient) Calls() int64 {
	return m.callCount.Load()
}

func (m *MemoryClient) before(ctx context.Context) error {
	m.callCount.Add(1)
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.failNext.Load() > 0 {
		m.failNext.Add(-1)
		return ErrThrottled
	}
	return nil
}

func (m *MemoryClient) Get(ctx context.Context, table, id string) (Record, error) {
	if err := m.before(ctx); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.tables[table][id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return Record{ID: id, Fields: copyFields(fields)}, nil
}

func (m *MemoryClient) Find(ctx context.Context, table string, filter Filter) ([]Record, error) {
	if err := m.before(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if filter.Field != "" && m.unsupportedFilters[filter.Field] {
		return nil, ErrFilterUnsupported
	}

	ids := make([]string, 0, len(m.tables[table]))
	for id := range m.tables[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var records []Record
	for _, id := range ids {
		fields := m.tables[table][id]
		if filter.Field != "" && fmt.Sprintf("%v", fields[filter.Field]) != filter.Value {
			continue
		}
		records = append(records, Record{ID: id, Fields: copyFields(fields)})
	}
	return records, nil
}

func (m *MemoryClient) Insert(ctx context.Context, table string, fields map[string]any) (Record, error) {
	if err := m.before(ctx); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tables[table] == nil {
		m.tables[table] = make(map[string]map[string]any)
	}
	m.nextID++
	id := fmt.Sprintf("rec%06d", m.nextID)
	m.tables[table][id] = copyFields(fields)
	return Record{ID: id, Fields: copyFields(fields)}, nil
}

func (m *MemoryClient) Update(ctx context.Context, table, id string, fields map[string]any) (Record, error) {
	if err := m.before(ctx); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tables[table][id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	for k, v := range fields {
		existing[k] = v
	}
	return Record{ID: id, Fields: copyFields(existing)}, nil
}

func (m *MemoryClient) Delete(ctx context.Context, table, id string) error {
	if err := m.before(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table][id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.tables[table], id)
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
