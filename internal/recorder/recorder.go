// Package recorder persists telemetry events to SQLite for later analysis.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/kstaniek/go-crsf-bridge/internal/hub"
	"github.com/kstaniek/go-crsf-bridge/internal/logging"
	"github.com/kstaniek/go-crsf-bridge/internal/metrics"
	"github.com/kstaniek/go-crsf-bridge/internal/telemetry"
)

const (
	defaultBatch         = 64
	defaultFlushInterval = 500 * time.Millisecond
)

// Recorder wraps the database and batches inserts.
type Recorder struct {
	db            *sql.DB
	batch         int
	flushInterval time.Duration
	logger        *slog.Logger
}

// Open opens (or creates) the SQLite file at path in WAL mode and migrates it.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", fileDSN(path))
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recorder: ping: %w", err)
	}
	db.SetMaxOpenConns(1)
	r := &Recorder{db: db, batch: defaultBatch, flushInterval: defaultFlushInterval, logger: logging.Component("recorder")}
	if err := r.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// fileDSN builds the sqlite URI for path. '?', '#' and '%' in the path are
// percent-encoded so they stay part of the file name.
func fileDSN(path string) string {
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
}

// Migrate applies the schema. It is idempotent.
func (r *Recorder) Migrate() error {
	for _, stmt := range []string{ddlTelemetry, ddlTelemetryIndex} {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("recorder: migrate: %w", err)
		}
	}
	return nil
}

const ddlTelemetry = `
CREATE TABLE IF NOT EXISTS telemetry (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	type    TEXT    NOT NULL,
	payload TEXT    NOT NULL
);`

const ddlTelemetryIndex = `
CREATE INDEX IF NOT EXISTS idx_telemetry_type_ts ON telemetry (type, ts);`

// Insert writes events in one transaction. ts is stored as Unix milliseconds.
func (r *Recorder) Insert(ctx context.Context, evs []telemetry.Event) error {
	if len(evs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recorder: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO telemetry (ts, type, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("recorder: prepare: %w", err)
	}
	defer stmt.Close()
	for _, ev := range evs {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("recorder: encode %s: %w", ev.Type, err)
		}
		if _, err := stmt.ExecContext(ctx, ev.Time.UnixMilli(), ev.Type, string(data)); err != nil {
			return fmt.Errorf("recorder: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recorder: commit: %w", err)
	}
	return nil
}

// Row is one stored event with its raw JSON payload.
type Row struct {
	Time    time.Time       `json:"time"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"data"`
}

// Recent returns up to limit rows of the given type, newest first. An empty
// type matches all.
func (r *Recorder) Recent(ctx context.Context, typ string, limit int) ([]Row, error) {
	q := `SELECT ts, type, payload FROM telemetry`
	args := []any{}
	if typ != "" {
		q += ` WHERE type = ?`
		args = append(args, typ)
	}
	q += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recorder: query: %w", err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var (
			ms      int64
			row     Row
			payload string
		)
		if err := rows.Scan(&ms, &row.Type, &payload); err != nil {
			return nil, fmt.Errorf("recorder: scan: %w", err)
		}
		row.Time = time.UnixMilli(ms).UTC()
		row.Payload = json.RawMessage(payload)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Run records the events of cl, committing every batch events or every
// flush interval, until ctx is done or the client closes.
func (r *Recorder) Run(ctx context.Context, cl *hub.Client) {
	pending := make([]telemetry.Event, 0, r.batch)
	t := time.NewTicker(r.flushInterval)
	defer t.Stop()
	flush := func() {
		if len(pending) == 0 {
			return
		}
		// a cancelled ctx must not lose the tail
		if err := r.Insert(context.Background(), pending); err != nil {
			metrics.IncError(metrics.ErrRecorderWrite)
			r.logger.Warn("recorder_write_error", "events", len(pending), "error", err)
		} else {
			for range pending {
				metrics.IncSinkEvent("recorder")
			}
		}
		pending = pending[:0]
	}
	defer flush()
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.Closed:
			return
		case <-t.C:
			flush()
		case fr := <-cl.Out:
			ev, ok := telemetry.FromFrame(fr, time.Now())
			if !ok {
				continue
			}
			pending = append(pending, ev)
			if len(pending) >= r.batch {
				flush()
			}
		}
	}
}

// Record stores a single event immediately (link transitions).
func (r *Recorder) Record(ev telemetry.Event) {
	if err := r.Insert(context.Background(), []telemetry.Event{ev}); err != nil {
		metrics.IncError(metrics.ErrRecorderWrite)
		r.logger.Warn("recorder_write_error", "type", ev.Type, "error", err)
	}
}

func (r *Recorder) Close() error { return r.db.Close() }
