// Package journal records every class transform in a SQLite database so a
// batch run can be audited after the fact.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/weft/rewrite"
)

var log = commonlog.GetLogger("weft.journal")

const schema = `
CREATE TABLE IF NOT EXISTS transforms (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session       TEXT    NOT NULL,
	class         TEXT    NOT NULL,
	outcome       TEXT    NOT NULL,
	input_sha256  TEXT    NOT NULL,
	output_sha256 TEXT    NOT NULL,
	applied       TEXT    NOT NULL,
	skipped       TEXT    NOT NULL,
	diagnostic    TEXT    NOT NULL,
	recorded_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transforms_session_class ON transforms (session, class);
`

// Entry is one recorded transform.
type Entry struct {
	ID         int64
	Session    string
	Class      string
	Outcome    string
	InputSHA   string
	OutputSHA  string // empty for failed transforms
	Applied    []string
	Skipped    []string
	Diagnostic string
	RecordedAt time.Time
}

// Journal is a transform journal backed by SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path. ":memory:" gives a
// private in-memory journal.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Writes are serialized; one connection also keeps ":memory:" a single
	// database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the SQLite handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Record stores one transform result.
func (j *Journal) Record(ctx context.Context, session, className string, original []byte, r rewrite.EditResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var out string
	if r.Outcome != rewrite.Failed {
		out = digest(r.Bytes)
	}
	skipped := make([]string, len(r.Skipped))
	for i, s := range r.Skipped {
		skipped[i] = s.ID
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO transforms (
		   session, class, outcome, input_sha256, output_sha256,
		   applied, skipped, diagnostic, recorded_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session,
		className,
		r.Outcome.String(),
		digest(original),
		out,
		strings.Join(r.Applied, ","),
		strings.Join(skipped, ","),
		r.Diagnostic,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", className, err)
	}
	return nil
}

// Observer returns a rewrite observer that records into j under session.
// Write failures are logged; they never fail a class load.
func (j *Journal) Observer(ctx context.Context, session string) rewrite.Observer {
	return func(className string, original []byte, r rewrite.EditResult) {
		if err := j.Record(ctx, session, className, original, r); err != nil {
			log.Errorf("journal: %v", err)
		}
	}
}

// Entries lists recorded transforms in insertion order. An empty session
// lists every session.
func (j *Journal) Entries(ctx context.Context, session string) ([]Entry, error) {
	query := `SELECT id, session, class, outcome, input_sha256, output_sha256,
	                 applied, skipped, diagnostic, recorded_at
	            FROM transforms`
	var args []any
	if session != "" {
		query += ` WHERE session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY id`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var applied, skipped string
		var at int64
		if err := rows.Scan(&e.ID, &e.Session, &e.Class, &e.Outcome, &e.InputSHA, &e.OutputSHA,
			&applied, &skipped, &e.Diagnostic, &at); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Applied = split(applied)
		e.Skipped = split(skipped)
		e.RecordedAt = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
