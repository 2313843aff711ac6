// Package audit persists an operation-level trail to SQLite.
//
// Every mutating operation (roster changes, checks, notification sends) is
// recorded as an Entry. Writes go through a buffered channel and are flushed
// in batches so the hot path never blocks on the database; Close drains the
// buffer. The Middleware wraps kit endpoints so transport handlers get
// auditing without carrying it themselves.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/vigie/idgen"
	"github.com/hazyhaar/vigie/kit"
)

// Entry is a single operation record in the audit trail.
type Entry struct {
	EntryID   string
	Timestamp int64 // milliseconds since epoch
	Action    string
	UserID    string
	Transport string // "http", "mcp", "cli"
	RequestID string

	Parameters string // JSON
	Result     string // JSON
	Status     string // "success" or "error"
	Error      string
	DurationMs int64
}

// Filter controls Query results.
type Filter struct {
	Since    *time.Time
	Until    *time.Time
	Action   string
	Status   string
	Limit    int // default 100
	Offset   int
	OrderBy  string // "timestamp", "duration_ms" or "action"
	OrderDir string // "ASC" or "DESC"
}

// Logger is the audit sink consumed by services and middleware.
type Logger interface {
	Log(ctx context.Context, e *Entry) error
	LogAsync(e *Entry)
	Close() error
}

const (
	batchSize     = 32
	flushInterval = 2 * time.Second
)

// SQLiteLogger is the production Logger, backed by the audit_log table.
type SQLiteLogger struct {
	db        *sql.DB
	newID     idgen.Generator
	ch        chan *Entry
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a SQLiteLogger.
type Option func(*SQLiteLogger)

// WithIDGenerator sets a custom generator for entry IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *SQLiteLogger) { l.newID = gen }
}

// NewSQLiteLogger creates an async audit logger. Call Init once at startup
// to create the table, and Close on shutdown to drain the buffer.
func NewSQLiteLogger(db *sql.DB, opts ...Option) *SQLiteLogger {
	l := &SQLiteLogger{
		db:    db,
		newID: idgen.Prefixed("audit_", idgen.Default),
		ch:    make(chan *Entry, 256),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Init creates the audit_log table and indexes if they don't exist.
func (l *SQLiteLogger) Init() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			entry_id      TEXT PRIMARY KEY,
			timestamp     INTEGER NOT NULL,
			action        TEXT NOT NULL,
			user_id       TEXT NOT NULL DEFAULT '',
			transport     TEXT NOT NULL DEFAULT '',
			request_id    TEXT NOT NULL DEFAULT '',
			parameters    TEXT NOT NULL DEFAULT '',
			result        TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			duration_ms   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log (timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log (action, timestamp);
	`)
	return err
}

// Log inserts an entry synchronously.
func (l *SQLiteLogger) Log(ctx context.Context, e *Entry) error {
	l.fillDefaults(e)
	return l.insert(ctx, e)
}

// LogAsync queues an entry for batched persistence. Falls back to a
// synchronous insert if the buffer is full.
func (l *SQLiteLogger) LogAsync(e *Entry) {
	l.fillDefaults(e)
	select {
	case l.ch <- e:
	default:
		slog.Warn("audit: buffer full, sync fallback", "action", e.Action)
		if err := l.insert(context.Background(), e); err != nil {
			slog.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Query retrieves entries matching the filter, newest first by default.
func (l *SQLiteLogger) Query(ctx context.Context, f *Filter) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, action, user_id, transport, request_id,
		parameters, result, status, error_message, duration_ms
		FROM audit_log WHERE 1=1`
	var args []any

	if f.Since != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if f.Until != nil {
		q += " AND timestamp <= ?"
		args = append(args, f.Until.UnixMilli())
	}
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}

	orderBy := "timestamp"
	if f.OrderBy != "" {
		switch f.OrderBy {
		case "timestamp", "duration_ms", "action":
			orderBy = f.OrderBy
		default:
			return nil, fmt.Errorf("invalid order_by column: %q", f.OrderBy)
		}
	}
	orderDir := "DESC"
	if f.OrderDir != "" {
		switch strings.ToUpper(f.OrderDir) {
		case "ASC", "DESC":
			orderDir = strings.ToUpper(f.OrderDir)
		default:
			return nil, fmt.Errorf("invalid order_dir: %q", f.OrderDir)
		}
	}
	q += fmt.Sprintf(" ORDER BY %s %s", orderBy, orderDir)

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.EntryID, &e.Timestamp, &e.Action, &e.UserID, &e.Transport, &e.RequestID,
			&e.Parameters, &e.Result, &e.Status, &e.Error, &e.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retentionDays and reports how many.
func (l *SQLiteLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit log: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine. Safe to call more
// than once.
func (l *SQLiteLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
		<-l.done
	})
	return nil
}

func (l *SQLiteLogger) fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Transport == "" {
		e.Transport = "http"
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	batch := make([]*Entry, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("audit: begin tx", "error", err)
			return
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			tx.Rollback()
			slog.Error("audit: prepare", "error", err)
			return
		}
		defer stmt.Close()

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx,
				e.EntryID, e.Timestamp, e.Action, e.UserID, e.Transport, e.RequestID,
				e.Parameters, e.Result, e.Status, e.Error, e.DurationMs,
			); err != nil {
				slog.Error("audit: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			// drain channel
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const insertSQL = `INSERT INTO audit_log
	(entry_id, timestamp, action, user_id, transport, request_id,
	 parameters, result, status, error_message, duration_ms)
	VALUES (?,?,?,?,?,?,?,?,?,?,?)`

func (l *SQLiteLogger) insert(ctx context.Context, e *Entry) error {
	_, err := l.db.ExecContext(ctx,
		insertSQL,
		e.EntryID, e.Timestamp, e.Action, e.UserID, e.Transport, e.RequestID,
		e.Parameters, e.Result, e.Status, e.Error, e.DurationMs,
	)
	return err
}

// Middleware records every invocation of the wrapped endpoint under the
// given action name, including identity and transport pulled from the
// context. The endpoint's error is passed through untouched.
func Middleware(logger Logger, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			e := &Entry{
				Action:     action,
				UserID:     kit.GetUserID(ctx),
				Transport:  kit.GetTransport(ctx),
				RequestID:  kit.GetRequestID(ctx),
				DurationMs: time.Since(start).Milliseconds(),
			}
			if req != nil {
				if b, mErr := json.Marshal(req); mErr == nil {
					e.Parameters = string(b)
				}
			}
			if err != nil {
				e.Error = err.Error()
			}
			logger.LogAsync(e)

			return resp, err
		}
	}
}
