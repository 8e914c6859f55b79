// Package audit persists denied access decisions.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS access_decisions (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL DEFAULT '',
	feature     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	method      TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
)`

const insertSQL = `INSERT INTO access_decisions (id, user_id, feature, reason, method, path, request_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const pruneSQL = `DELETE FROM access_decisions WHERE occurred_at < $1`

const writeTimeout = 2 * time.Second

// Execer is the subset of *pgxpool.Pool the recorder needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Denial describes one denied decision.
type Denial struct {
	UserID    string    `json:"user_id"`
	Feature   string    `json:"feature"`
	Reason    string    `json:"reason"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	RequestID string    `json:"request_id,omitempty"`
	At        time.Time `json:"at"`
}

// Recorder writes denials into access_decisions. A Recorder without a
// database is a no-op.
type Recorder struct {
	db     Execer
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder returns a Recorder over db. db may be nil.
func NewRecorder(db Execer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger, now: time.Now}
}

// Enabled reports whether denials are persisted.
func (r *Recorder) Enabled() bool {
	return r != nil && r.db != nil
}

// EnsureSchema creates the access_decisions table when missing.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

// Record persists d and returns its row id.
func (r *Recorder) Record(ctx context.Context, d Denial) (uuid.UUID, error) {
	if !r.Enabled() {
		return uuid.Nil, errors.New("audit: recorder not configured")
	}
	if d.Feature == "" || d.Reason == "" {
		return uuid.Nil, errors.New("audit: denial requires feature and reason")
	}
	if d.At.IsZero() {
		d.At = r.now()
	}
	id := uuid.New()
	if _, err := r.db.Exec(ctx, insertSQL, id, d.UserID, d.Feature, d.Reason, d.Method, d.Path, d.RequestID, d.At.UTC()); err != nil {
		return uuid.Nil, fmt.Errorf("audit: insert denial: %w", err)
	}
	return id, nil
}

// RecordDenial is the best-effort variant used on the request path. The
// write outlives the request context and failures are only logged.
func (r *Recorder) RecordDenial(ctx context.Context, d Denial) {
	if !r.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if _, err := r.Record(ctx, d); err != nil {
		r.logger.Warn("audit denial not recorded",
			slog.String("feature", d.Feature),
			slog.String("reason", d.Reason),
			slog.Any("error", err))
	}
}

// Prune deletes denials recorded before cutoff and returns how many rows
// were removed.
func (r *Recorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if !r.Enabled() {
		return 0, errors.New("audit: recorder not configured")
	}
	tag, err := r.db.Exec(ctx, pruneSQL, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
