// Package archive persists accepted events to SQLite for the hourly
// activity summary. Only envelope metadata is stored; payloads are
// already metadata-only by the time they reach the hub, and the
// summary needs nothing beyond source, project, type, and time.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pulsewatch/pulsewatch/internal/event"
)

// tsFormat is fixed width so string comparison orders timestamps.
const tsFormat = "2006-01-02T15:04:05.000Z"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      TEXT PRIMARY KEY,
	source  TEXT NOT NULL,
	project TEXT NOT NULL DEFAULT '',
	type    TEXT NOT NULL,
	ts      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events (ts);
`

// Archive is the SQLite-backed event store.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive database at path and ensures the
// schema exists.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}
	// modernc's driver serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent submissions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Store inserts a batch inside one transaction. Duplicate event ids
// are ignored, so a monitor retrying a batch the hub already accepted
// does not double-count.
func (a *Archive) Store(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO events (id, source, project, type, ts) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("archive: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.ID, ev.Source, ev.Project(), string(ev.Type),
			ev.Timestamp.UTC().Format(tsFormat))
		if err != nil {
			return fmt.Errorf("archive: insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// HourCount is one row of the hourly summary.
type HourCount struct {
	Hour   string `json:"hour"`
	Source string `json:"source"`
	Type   string `json:"type"`
	Count  int    `json:"count"`
}

// HourlyCounts returns event counts bucketed by hour, source, and type
// since the given time, oldest first. This is the only query surface;
// raw events never leave the archive.
func (a *Archive) HourlyCounts(ctx context.Context, since time.Time) ([]HourCount, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%dT%H:00:00Z', ts) AS hour, source, type, COUNT(*)
		FROM events
		WHERE ts >= ?
		GROUP BY hour, source, type
		ORDER BY hour, source, type`,
		since.UTC().Format(tsFormat))
	if err != nil {
		return nil, fmt.Errorf("archive: query hourly counts: %w", err)
	}
	defer rows.Close()

	var out []HourCount
	for rows.Next() {
		var hc HourCount
		if err := rows.Scan(&hc.Hour, &hc.Source, &hc.Type, &hc.Count); err != nil {
			return nil, fmt.Errorf("archive: scan row: %w", err)
		}
		out = append(out, hc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate rows: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
