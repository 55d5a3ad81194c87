package oauth

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/teemow/inboxbell/internal/logging"
)

// Store is the credential table. One lock guards the whole map and is never
// held across I/O.
type Store struct {
	mu      sync.Mutex
	records map[TenantID]TokenRecord
	logger  *slog.Logger
}

// Entry is one row of a Store snapshot.
type Entry struct {
	Tenant TenantID
	Record TokenRecord
}

// NewStore creates an empty credential table.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: make(map[TenantID]TokenRecord),
		logger:  logger,
	}
}

// Put inserts or overwrites the record for a tenant and reports whether the tenant is new.
func (s *Store) Put(tenant TenantID, rec TokenRecord) bool {
	s.mu.Lock()
	_, exists := s.records[tenant]
	s.records[tenant] = rec
	s.mu.Unlock()

	s.logger.Debug("Saved tenant credentials",
		logging.Tenant(int64(tenant)),
		"created", !exists,
		"have_refresh", rec.HasRefreshToken(),
		"expiry", rec.ExpiresAt)
	return !exists
}

// Get returns a copy of the tenant's record. ok is false when the tenant is not linked.
func (s *Store) Get(tenant TenantID) (TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tenant]
	return rec, ok
}

// Snapshot copies the table, ordered by tenant id.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.records))
	for t, rec := range s.records {
		entries = append(entries, Entry{Tenant: t, Record: rec})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Tenant < entries[j].Tenant })
	return entries
}

// Len returns the number of linked tenants.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
