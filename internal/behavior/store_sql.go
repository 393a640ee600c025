package behavior

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

type sqlRecord struct {
	Subject            string         `db:"subject"`
	LoginCount         uint64         `db:"login_count"`
	FailedAttemptCount uint64         `db:"failed_attempt_count"`
	LastLoginAt        sql.NullTime   `db:"last_login_at"`
	LastAction         sql.NullString `db:"last_action"`
	LastResource       sql.NullString `db:"last_resource"`
	LastActionAt       sql.NullTime   `db:"last_action_at"`
}

// SQLStore persists behavior records in Postgres. Per-subject serialization is
// delegated to the database's row locks.
type SQLStore struct {
	db         *sqlx.DB
	contribute ContributionFunc
}

// NewSQLStore creates a Postgres-backed behavior store.
func NewSQLStore(db *sqlx.DB, contribute ContributionFunc) *SQLStore {
	if contribute == nil {
		contribute = func(string, string) float64 { return 0 }
	}
	return &SQLStore{db: db, contribute: contribute}
}

// Get returns the subject's record, zero-valued if never observed.
func (s *SQLStore) Get(ctx context.Context, subject string) (Record, error) {
	var row sqlRecord
	err := s.db.GetContext(ctx, &row,
		`SELECT subject, login_count, failed_attempt_count, last_login_at, last_action, last_resource, last_action_at
		 FROM behavior_records WHERE subject = $1`, subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{Subject: subject}, nil
	}
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Subject:            row.Subject,
		LoginCount:         row.LoginCount,
		FailedAttemptCount: row.FailedAttemptCount,
	}
	if row.LastLoginAt.Valid {
		rec.LastLoginAt = row.LastLoginAt.Time
	}
	if row.LastAction.Valid {
		rec.LastAction = &ActionRecord{
			Action:   row.LastAction.String,
			Resource: row.LastResource.String,
			At:       row.LastActionAt.Time,
		}
	}
	return rec, nil
}

// RecordLoginAttempt upserts the subject's login counters.
func (s *SQLStore) RecordLoginAttempt(ctx context.Context, subject string, success bool) error {
	if success {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO behavior_records (subject, login_count, failed_attempt_count, last_login_at)
			 VALUES ($1, 1, 0, $2)
			 ON CONFLICT (subject) DO UPDATE SET
			   login_count = behavior_records.login_count + 1,
			   failed_attempt_count = 0,
			   last_login_at = EXCLUDED.last_login_at`,
			subject, time.Now().UTC())
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO behavior_records (subject, login_count, failed_attempt_count)
		 VALUES ($1, 0, 1)
		 ON CONFLICT (subject) DO UPDATE SET
		   failed_attempt_count = behavior_records.failed_attempt_count + 1`,
		subject)
	return err
}

// RecordAction upserts the subject's last action and returns its risk
// contribution.
func (s *SQLStore) RecordAction(ctx context.Context, subject, action, resource string) (float64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO behavior_records (subject, login_count, failed_attempt_count, last_action, last_resource, last_action_at)
		 VALUES ($1, 0, 0, $2, $3, $4)
		 ON CONFLICT (subject) DO UPDATE SET
		   last_action = EXCLUDED.last_action,
		   last_resource = EXCLUDED.last_resource,
		   last_action_at = EXCLUDED.last_action_at`,
		subject, action, resource, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return s.contribute(action, resource), nil
}
