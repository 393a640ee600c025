package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrStoreUnavailable is returned when the underlying store cannot be
// reached. Queries fail loud with this error; an empty result set is never
// substituted for a failed one.
var ErrStoreUnavailable = errors.New("audit store unavailable")

// EventType classifies audit events.
type EventType string

const (
	EventAuthentication EventType = "authentication"
	EventAuthorization  EventType = "authorization"
	EventDataAccess     EventType = "data_access"
	EventSystem         EventType = "system"
)

// Event is one append-only audit record. Ordering by timestamp is the only
// guarantee; events are never updated or deleted.
type Event struct {
	ID        string          `json:"id" db:"id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Subject   string          `json:"subject" db:"subject"`
	EventType EventType       `json:"event_type" db:"event_type"`
	Action    string          `json:"action" db:"action"`
	Resource  string          `json:"resource" db:"resource"`
	Allowed   bool            `json:"allowed" db:"allowed"`
	Reason    string          `json:"reason" db:"reason"`
	RiskScore float64         `json:"risk_score" db:"risk_score"`
	Status    string          `json:"status" db:"status"` // success, failure
	Context   json.RawMessage `json:"context,omitempty" db:"context"`
}

// QueryParams filters audit queries. Nil pointer fields are unconstrained.
type QueryParams struct {
	Subject   *string
	EventType *EventType
	Resource  *string
	Status    *string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Store is the durable audit log. Implementations must preserve insertion
// order under the timestamp column and never fabricate results on failure.
type Store interface {
	Insert(ctx context.Context, e Event) error
	Query(ctx context.Context, params QueryParams) ([]Event, int, error)
	SecurityEvents(ctx context.Context, since time.Time, limit int) ([]Event, error)
}

// anomalyScoreFloor classifies high-risk allowed events as security events
// alongside outright denials.
const anomalyScoreFloor = 70

type sqlStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a Postgres-backed audit store.
func NewSQLStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) Insert(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, timestamp, subject, event_type, action, resource, allowed, reason, risk_score, status, context)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Timestamp, e.Subject, e.EventType, e.Action, e.Resource, e.Allowed, e.Reason, e.RiskScore, e.Status, e.Context,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *sqlStore) Query(ctx context.Context, params QueryParams) ([]Event, int, error) {
	query := `SELECT * FROM audit_events WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM audit_events WHERE 1=1`
	var args []interface{}
	argIdx := 1

	addFilter := func(clause string, value interface{}) {
		suffix := ` AND ` + clause + ` $` + strconv.Itoa(argIdx)
		query += suffix
		countQuery += suffix
		args = append(args, value)
		argIdx++
	}

	if params.Subject != nil {
		addFilter(`subject =`, *params.Subject)
	}
	if params.EventType != nil {
		addFilter(`event_type =`, *params.EventType)
	}
	if params.Resource != nil {
		addFilter(`resource =`, *params.Resource)
	}
	if params.Status != nil {
		addFilter(`status =`, *params.Status)
	}
	if params.StartTime != nil {
		addFilter(`timestamp >=`, *params.StartTime)
	}
	if params.EndTime != nil {
		addFilter(`timestamp <=`, *params.EndTime)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	query += ` ORDER BY timestamp DESC`
	if params.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(argIdx)
		args = append(args, params.Limit)
		argIdx++
	}
	if params.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(argIdx)
		args = append(args, params.Offset)
	}

	var events []Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return events, total, nil
}

func (s *sqlStore) SecurityEvents(ctx context.Context, since time.Time, limit int) ([]Event, error) {
	var events []Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT * FROM audit_events
		 WHERE timestamp >= $1 AND (allowed = FALSE OR risk_score >= $2)
		 ORDER BY timestamp DESC
		 LIMIT $3`,
		since, anomalyScoreFloor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return events, nil
}
