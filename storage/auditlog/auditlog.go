// Package auditlog keeps an operator-facing record of every instruction the
// node accepted for execution, successful or not. It is not ledger state and
// is never consulted by the state machine.
package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	// DefaultListLimit caps List when the filter does not set a limit.
	DefaultListLimit = 100
	// MaxListLimit is the largest page List will return.
	MaxListLimit = 1000
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("auditlog: store closed")

// Entry is one audited instruction.
type Entry struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Kind       string    `json:"kind"`
	Signer     string    `json:"signer,omitempty"`
	Profile    string    `json:"profile,omitempty"`
	Record     string    `json:"record,omitempty"`
	Amount     uint64    `json:"amount,omitempty"`
	// Outcome is "ok" or the symbolic ledger error name.
	Outcome string `json:"outcome"`
	Code    int    `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Signer  string
	Profile string
	Limit   int
}

// Store persists audit entries in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the audit database at path. ":memory:" keeps the log
// in process memory.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("auditlog: path must be provided")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway, and an in-memory database exists
	// only on the connection that created it.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            request_id TEXT,
            occurred_at TIMESTAMP NOT NULL,
            kind TEXT NOT NULL,
            signer TEXT,
            profile TEXT,
            record TEXT,
            amount INTEGER NOT NULL DEFAULT 0,
            outcome TEXT NOT NULL,
            code INTEGER NOT NULL DEFAULT 0,
            detail TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS audit_log_signer ON audit_log(signer);`,
		`CREATE INDEX IF NOT EXISTS audit_log_profile ON audit_log(profile);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("auditlog: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores entry, assigning its ID and timestamp when unset, and returns
// the stored form.
func (s *Store) Append(ctx context.Context, entry Entry) (Entry, error) {
	if s == nil || s.db == nil {
		return Entry{}, ErrClosed
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}
	if entry.Outcome == "" {
		entry.Outcome = "ok"
	}
	const stmt = `INSERT INTO audit_log(id, request_id, occurred_at, kind, signer, profile, record, amount, outcome, code, detail)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	// SQLite integers are signed; amounts above MaxInt64 are stored as their
	// two's complement and restored by List.
	_, err := s.db.ExecContext(ctx, stmt,
		entry.ID, entry.RequestID, entry.OccurredAt.UTC(), entry.Kind, entry.Signer,
		entry.Profile, entry.Record, int64(entry.Amount), entry.Outcome, entry.Code, entry.Detail)
	if err != nil {
		return Entry{}, fmt.Errorf("auditlog: append: %w", err)
	}
	return entry, nil
}

// List returns entries matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	var (
		clauses []string
		args    []any
	)
	if filter.Signer != "" {
		clauses = append(clauses, "signer = ?")
		args = append(args, filter.Signer)
	}
	if filter.Profile != "" {
		clauses = append(clauses, "profile = ?")
		args = append(args, filter.Profile)
	}
	query := `SELECT id, request_id, occurred_at, kind, signer, profile, record, amount, outcome, code, detail FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditlog: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		var requestID, signer, profile, record, detail sql.NullString
		var amount int64
		if err := rows.Scan(&entry.ID, &requestID, &entry.OccurredAt, &entry.Kind, &signer, &profile,
			&record, &amount, &entry.Outcome, &entry.Code, &detail); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		entry.RequestID = requestID.String
		entry.Signer = signer.String
		entry.Profile = profile.String
		entry.Record = record.String
		entry.Detail = detail.String
		entry.Amount = uint64(amount)
		out = append(out, entry)
	}
	return out, rows.Err()
}
