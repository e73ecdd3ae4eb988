package auditlog

import (
	"context"
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/herald/internal/errors"
)

// Action kinds recorded per decision outcome.
const (
	ActionCheck       = "check"
	ActionGenerate    = "generate"
	ActionSkip        = "skip"
	ActionPostSuccess = "post_success"
	ActionPostFail    = "post_fail"
)

// Record is one audit entry.
type Record struct {
	ID        string `json:"id"`
	Repo      string `json:"repo"`
	Marker    string `json:"marker,omitempty"`
	Action    string `json:"action"`
	Content   string `json:"content,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Log wraps the database with the queries the engine and dashboard need.
type Log struct {
	db *sql.DB
}

// New creates a Log over an initialized database.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append stores a record, assigning a ULID and timestamp when absent.
func (l *Log) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
		if err != nil {
			return errors.NewInternal(err)
		}
		rec.ID = id.String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, repo, marker, action, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Repo, rec.Marker, rec.Action, rec.Content, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LastSuccessMarker returns the marker of the most recent post_success for
// the repo, or empty string when the repo has never published.
func (l *Log) LastSuccessMarker(ctx context.Context, repo string) (string, error) {
	var marker string
	err := l.db.QueryRowContext(ctx, `
		SELECT marker FROM audit_log
		WHERE repo = ? AND action = ? AND marker != ''
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		repo, ActionPostSuccess,
	).Scan(&marker)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return marker, nil
}

// SuccessCountForMarker reports how many post_success records exist for the
// marker, used to verify the at-most-once publish property.
func (l *Log) SuccessCountForMarker(ctx context.Context, marker string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log
		WHERE marker = ? AND action = ?`,
		marker, ActionPostSuccess,
	).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// SuccessCountSince counts post_success records for the repo at or after the
// given unix timestamp (a quota-day boundary).
func (l *Log) SuccessCountSince(ctx context.Context, repo string, since int64) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log
		WHERE repo = ? AND action = ? AND created_at >= ?`,
		repo, ActionPostSuccess, since,
	).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// Recent returns the newest records, newest-first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, repo, marker, action, content, status, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Repo, &r.Marker, &r.Action, &r.Content, &r.Status, &r.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Get returns one record by id.
func (l *Log) Get(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := l.db.QueryRowContext(ctx, `
		SELECT id, repo, marker, action, content, status, created_at
		FROM audit_log WHERE id = ?`, id,
	).Scan(&r.ID, &r.Repo, &r.Marker, &r.Action, &r.Content, &r.Status, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &r, nil
}
