package behavior

import (
	"context"
	"sync"
	"time"
)

// ActionRecord captures the most recent action observed for a principal.
type ActionRecord struct {
	Action   string    `json:"action"`
	Resource string    `json:"resource"`
	At       time.Time `json:"at"`
}

// Record tracks a principal's observed login and action history. Records are
// created lazily on first observation and never deleted within the process
// lifetime; eviction is an external housekeeping concern.
type Record struct {
	Subject            string        `json:"subject"`
	LoginCount         uint64        `json:"login_count"`
	FailedAttemptCount uint64        `json:"failed_attempt_count"`
	LastLoginAt        time.Time     `json:"last_login_at,omitempty"`
	LastAction         *ActionRecord `json:"last_action,omitempty"`
}

// ContributionFunc computes the risk contribution of a recorded action. The
// store holds no scoring policy of its own; the function is injected so the
// scorer remains the single owner of risk heuristics.
type ContributionFunc func(action, resource string) float64

// Store is the keyed per-principal behavior state. Mutations on the same
// subject are serialized; reads may observe either side of an in-flight
// mutation.
type Store interface {
	// Get returns the record for a subject, a zero-valued record if the
	// subject has not been observed yet.
	Get(ctx context.Context, subject string) (Record, error)

	// RecordLoginAttempt increments the login counter and resets the failure
	// counter on success, or increments the failure counter on failure.
	RecordLoginAttempt(ctx context.Context, subject string, success bool) error

	// RecordAction updates the subject's last action and returns the action's
	// own risk contribution.
	RecordAction(ctx context.Context, subject, action, resource string) (float64, error)
}

// MemoryStore is the in-process Store. Each subject owns its entry mutex so
// mutations for different subjects proceed without contention.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	contribute ContributionFunc
	now        func() time.Time
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

// NewMemoryStore creates an in-process behavior store.
func NewMemoryStore(contribute ContributionFunc) *MemoryStore {
	if contribute == nil {
		contribute = func(string, string) float64 { return 0 }
	}
	return &MemoryStore{
		entries:    make(map[string]*entry),
		contribute: contribute,
		now:        time.Now,
	}
}

func (s *MemoryStore) entryFor(subject string) *entry {
	s.mu.RLock()
	e, ok := s.entries[subject]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[subject]; ok {
		return e
	}
	e = &entry{rec: Record{Subject: subject}}
	s.entries[subject] = e
	return e
}

// Get returns a copy of the subject's record.
func (s *MemoryStore) Get(_ context.Context, subject string) (Record, error) {
	e := s.entryFor(subject)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// RecordLoginAttempt updates the subject's login counters.
func (s *MemoryStore) RecordLoginAttempt(_ context.Context, subject string, success bool) error {
	e := s.entryFor(subject)
	e.mu.Lock()
	defer e.mu.Unlock()
	if success {
		e.rec.LoginCount++
		e.rec.FailedAttemptCount = 0
		e.rec.LastLoginAt = s.now()
	} else {
		e.rec.FailedAttemptCount++
	}
	return nil
}

// RecordAction updates the subject's last action and returns the action's
// risk contribution.
func (s *MemoryStore) RecordAction(_ context.Context, subject, action, resource string) (float64, error) {
	e := s.entryFor(subject)
	e.mu.Lock()
	e.rec.LastAction = &ActionRecord{Action: action, Resource: resource, At: s.now()}
	e.mu.Unlock()
	return s.contribute(action, resource), nil
}
