// Package dedup records which mailbox messages have already been handled per
// tenant, so a message is notified on at most once per process lifetime.
//
// The Ledger assumes a single writer per tenant: the poll scheduler runs one
// cycle at a time. IsNew followed by MarkSeen is not atomic across callers.
package dedup

import "sync"

// Ledger is the per-tenant seen set. One lock guards all tenants.
type Ledger struct {
	mu sync.Mutex
	// capacity bounds each tenant's set; 0 means unbounded.
	capacity int
	tenants  map[int64]*seenSet
}

type seenSet struct {
	ids map[string]struct{}
	// order holds insertion order for eviction when the ledger is capped.
	order []string
}

// NewLedger creates a Ledger. With capacity > 0 each tenant keeps only the
// most recently marked capacity ids.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{
		capacity: capacity,
		tenants:  make(map[int64]*seenSet),
	}
}

// Init creates the tenant's set if it does not exist yet.
func (l *Ledger) Init(tenant int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(tenant)
}

// IsNew reports whether id has not been marked for tenant.
func (l *Ledger) IsNew(tenant int64, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.tenants[tenant]
	if !ok {
		return true
	}
	_, seen := s.ids[id]
	return !seen
}

// MarkSeen records id for tenant. Marking an id twice is a no-op.
func (l *Ledger) MarkSeen(tenant int64, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.set(tenant)
	if _, seen := s.ids[id]; seen {
		return
	}
	s.ids[id] = struct{}{}

	if l.capacity == 0 {
		return
	}
	s.order = append(s.order, id)
	for len(s.order) > l.capacity {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
}

// Len returns the number of ids held for tenant.
func (l *Ledger) Len(tenant int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.tenants[tenant]; ok {
		return len(s.ids)
	}
	return 0
}

// set returns the tenant's set, creating it. Callers hold l.mu.
func (l *Ledger) set(tenant int64) *seenSet {
	s, ok := l.tenants[tenant]
	if !ok {
		s = &seenSet{ids: make(map[string]struct{})}
		l.tenants[tenant] = s
	}
	return s
}
