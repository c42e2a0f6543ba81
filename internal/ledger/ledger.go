// Package ledger keeps a SQLite history of dispatched and deferred commands.
// It is an audit trail only; the reconciler never reads it back.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/msageha/storebridge/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// tsLayout is fixed width so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Entry is one dispatched command as recorded.
type Entry struct {
	CommandID    int64           `json:"command_id"`
	CycleID      string          `json:"cycle_id"`
	PaymentID    string          `json:"payment_id"`
	Player       string          `json:"player"`
	PackageName  string          `json:"package_name"`
	Command      string          `json:"command"`
	DispatchedAt time.Time       `json:"dispatched_at"`
	Ack          model.AckResult `json:"ack"`
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	// Single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) stamp() string {
	return l.now().UTC().Format(tsLayout)
}

// RecordDispatch stores the first dispatch of a command; repeats are ignored.
func (l *Ledger) RecordDispatch(ctx context.Context, cycleID string, c model.Command) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO dispatches (command_id, cycle_id, payment_id, player, package_name, command, dispatched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(command_id) DO NOTHING`,
		c.ID, cycleID, c.PaymentID, c.McName, c.PackageName, c.Command, l.stamp())
	if err != nil {
		return fmt.Errorf("record dispatch %d: %w", c.ID, err)
	}
	// A dispatched command is no longer waiting.
	if _, err := l.db.ExecContext(ctx, `DELETE FROM deferrals WHERE command_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear deferral %d: %w", c.ID, err)
	}
	return nil
}

// RecordDeferred remembers when a command first had to wait for its player.
func (l *Ledger) RecordDeferred(ctx context.Context, cycleID string, c model.Command) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO deferrals (command_id, cycle_id, player, first_deferred_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(command_id) DO NOTHING`,
		c.ID, cycleID, c.McName, l.stamp())
	if err != nil {
		return fmt.Errorf("record deferral %d: %w", c.ID, err)
	}
	return nil
}

// RecordAck stores the acknowledgement outcome for a batch.
func (l *Ledger) RecordAck(ctx context.Context, _ string, ids []int64, ok bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, ok, l.stamp())
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE dispatches SET acked = ?, acked_at = ? WHERE command_id IN (%s)`, placeholders)
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record ack: %w", err)
	}
	return nil
}

// Recent returns the latest dispatches, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT command_id, cycle_id, payment_id, player, package_name, command, dispatched_at, acked
		FROM dispatches
		ORDER BY dispatched_at DESC, command_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			at    string
			acked sql.NullBool
		)
		if err := rows.Scan(&e.CommandID, &e.CycleID, &e.PaymentID, &e.Player, &e.PackageName, &e.Command, &at, &acked); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		if e.DispatchedAt, err = time.Parse(tsLayout, at); err != nil {
			return nil, fmt.Errorf("parse dispatched_at %q: %w", at, err)
		}
		switch {
		case !acked.Valid:
			e.Ack = model.AckNone
		case acked.Bool:
			e.Ack = model.AckOK
		default:
			e.Ack = model.AckFailed
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Waiting is a command still waiting for its player, per the ledger.
type Waiting struct {
	CommandID       int64     `json:"command_id"`
	Player          string    `json:"player"`
	FirstDeferredAt time.Time `json:"first_deferred_at"`
}

func (l *Ledger) Waiting(ctx context.Context) ([]Waiting, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT command_id, player, first_deferred_at FROM deferrals ORDER BY first_deferred_at, command_id`)
	if err != nil {
		return nil, fmt.Errorf("query deferrals: %w", err)
	}
	defer rows.Close()

	var out []Waiting
	for rows.Next() {
		var (
			w  Waiting
			at string
		)
		if err := rows.Scan(&w.CommandID, &w.Player, &at); err != nil {
			return nil, fmt.Errorf("scan deferral: %w", err)
		}
		if w.FirstDeferredAt, err = time.Parse(tsLayout, at); err != nil {
			return nil, fmt.Errorf("parse first_deferred_at %q: %w", at, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
