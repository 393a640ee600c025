package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRecordIsFlushedToStore(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, zap.NewNop())

	r.Record(Event{
		Subject:   "alice",
		EventType: EventAuthorization,
		Action:    "read",
		Resource:  "/api/reports",
		Allowed:   true,
		Reason:    "OK",
		RiskScore: 12,
	})
	r.Close()

	events, total, _, err := r.Query(context.Background(), QueryOptions{})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("expected 1 event, got total=%d len=%d", total, len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Error("expected generated event ID")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if e.Status != "success" {
		t.Errorf("expected status success for allowed event, got %q", e.Status)
	}
}

func TestRecordNeverBlocksWhenStoreIsDown(t *testing.T) {
	store := NewMemoryStore()
	store.SetUnavailable(true)
	r := NewRecorder(store, zap.NewNop())
	defer r.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			r.Record(Event{Subject: "bob", Action: "read", Resource: "/api/reports"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked while store was unavailable")
	}
}

func TestQueryPagination(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, zap.NewNop())
	base := time.Now().UTC()
	for i := 0; i < 25; i++ {
		r.Record(Event{
			Subject:   "alice",
			EventType: EventAuthorization,
			Action:    "read",
			Resource:  "/api/reports",
			Allowed:   true,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	r.Close()

	events, total, pages, err := r.Query(context.Background(), QueryOptions{Page: 2, Limit: 10})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if total != 25 {
		t.Errorf("expected total 25, got %d", total)
	}
	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if len(events) != 10 {
		t.Fatalf("expected 10 events on page 2, got %d", len(events))
	}
	// Reverse chronological: page 2 starts at the 11th newest.
	want := base.Add(14 * time.Second)
	if !events[0].Timestamp.Equal(want) {
		t.Errorf("expected first event at %v, got %v", want, events[0].Timestamp)
	}
}

func TestQueryFilters(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, zap.NewNop())
	r.Record(Event{Subject: "alice", EventType: EventAuthorization, Resource: "/api/reports", Allowed: true})
	r.Record(Event{Subject: "bob", EventType: EventAuthorization, Resource: "/api/admin", Allowed: false, Reason: "MISSING_ROLE"})
	r.Record(Event{Subject: "alice", EventType: EventAuthentication, Resource: "/login", Allowed: false, Reason: "EXPIRED_TOKEN"})
	r.Close()

	subject := "alice"
	events, total, _, err := r.Query(context.Background(), QueryOptions{Subject: &subject})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 events for alice, got %d", total)
	}
	for _, e := range events {
		if e.Subject != "alice" {
			t.Errorf("unexpected subject %q", e.Subject)
		}
	}

	status := "failure"
	_, total, _, err = r.Query(context.Background(), QueryOptions{Status: &status})
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 failure events, got %d", total)
	}
}

func TestQuerySecurityEventsOnlyDenialsAndAnomalies(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, zap.NewNop())
	now := time.Now().UTC()
	r.Record(Event{Subject: "a", Allowed: true, RiskScore: 10, Timestamp: now})
	r.Record(Event{Subject: "b", Allowed: false, Reason: "RISK_THRESHOLD_EXCEEDED", RiskScore: 90, Timestamp: now})
	r.Record(Event{Subject: "c", Allowed: true, RiskScore: 85, Timestamp: now})
	r.Record(Event{Subject: "stale", Allowed: false, Timestamp: now.AddDate(0, 0, -30)})
	r.Close()

	events, err := r.QuerySecurityEvents(context.Background(), 7, 10)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 security events, got %d", len(events))
	}
	for _, e := range events {
		if e.Subject == "a" || e.Subject == "stale" {
			t.Errorf("unexpected event for subject %q", e.Subject)
		}
	}
}

func TestQueryFailsLoudWhenStoreDown(t *testing.T) {
	store := NewMemoryStore()
	r := NewRecorder(store, zap.NewNop())
	r.Record(Event{Subject: "alice", Allowed: true})
	r.Close()

	store.SetUnavailable(true)
	_, _, _, err := r.Query(context.Background(), QueryOptions{})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := r.QuerySecurityEvents(context.Background(), 7, 10); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestDroppedCounter(t *testing.T) {
	store := NewMemoryStore()
	// Recorder with an already-closed-up queue cannot be simulated without
	// stopping the worker, so fill faster than a blocked store drains.
	store.SetUnavailable(true)
	r := NewRecorder(store, zap.NewNop())
	defer r.Close()

	for i := 0; i < defaultQueueSize*2+10; i++ {
		r.Record(Event{Subject: "flood"})
	}
	// The worker consumes while we fill, so only assert that overflow was
	// detected rather than an exact count.
	if r.Dropped() == 0 {
		t.Skip("worker drained queue fast enough; drop path not exercised")
	}
}
