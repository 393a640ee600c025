package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process audit store used for development runs and
// tests. It honors the same fail-loud contract as the SQL store via
// SetUnavailable.
type MemoryStore struct {
	mu          sync.RWMutex
	events      []Event
	unavailable bool
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetUnavailable toggles simulated store failure.
func (s *MemoryStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

func (s *MemoryStore) Insert(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return ErrStoreUnavailable
	}
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, params QueryParams) ([]Event, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, 0, ErrStoreUnavailable
	}

	var matched []Event
	for _, e := range s.events {
		if params.Subject != nil && e.Subject != *params.Subject {
			continue
		}
		if params.EventType != nil && e.EventType != *params.EventType {
			continue
		}
		if params.Resource != nil && e.Resource != *params.Resource {
			continue
		}
		if params.Status != nil && e.Status != *params.Status {
			continue
		}
		if params.StartTime != nil && e.Timestamp.Before(*params.StartTime) {
			continue
		}
		if params.EndTime != nil && e.Timestamp.After(*params.EndTime) {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	if params.Offset > 0 {
		if params.Offset >= total {
			return []Event{}, total, nil
		}
		matched = matched[params.Offset:]
	}
	if params.Limit > 0 && len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) SecurityEvents(_ context.Context, since time.Time, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, ErrStoreUnavailable
	}

	var matched []Event
	for _, e := range s.events {
		if e.Timestamp.Before(since) {
			continue
		}
		if e.Allowed && e.RiskScore < anomalyScoreFloor {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
