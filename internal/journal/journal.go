// Package journal keeps a sqlite history of every switch so a performance
// can be reviewed afterwards. Switches are queued without blocking the
// controller and written by Run.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"chainrig/internal/controller"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const queueSize = 256

// Entry is one recorded switch.
type Entry struct {
	ID       int64
	At       time.Time
	Outcome  string
	Previous string
	Current  string
}

// Journal is the switch history store.
type Journal struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	queue   chan Entry
	dropped atomic.Int64
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.log = l
		}
	}
}

// WithNow sets the timestamp source used by Observe.
func WithNow(fn func() time.Time) Option {
	return func(j *Journal) { j.now = fn }
}

// Open opens or creates the journal database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:     db,
		dbPath: path,
		queue:  make(chan Entry, queueSize),
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := j.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}
	j.log.Debug("journal opened", zap.String("path", path))
	return j, nil
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS switches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at_unix_nano INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		previous TEXT NOT NULL DEFAULT '',
		current TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_switches_at ON switches(at_unix_nano);
	`
	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// Observe queues a switch result. It never blocks; when the queue is full
// the entry is dropped and counted.
func (j *Journal) Observe(res controller.Result) {
	e := Entry{
		At:       j.now(),
		Outcome:  res.Outcome.String(),
		Previous: res.Previous,
		Current:  res.Current,
	}
	select {
	case j.queue <- e:
	default:
		j.dropped.Add(1)
		j.log.Warn("journal queue full, switch not recorded", zap.String("outcome", e.Outcome))
	}
}

// Dropped returns how many observed switches were not queued.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Run writes queued entries until ctx is done, then flushes what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case e := <-j.queue:
			j.write(context.Background(), e)
		case <-ctx.Done():
			j.Flush()
			return nil
		}
	}
}

// Flush writes every queued entry now.
func (j *Journal) Flush() {
	for {
		select {
		case e := <-j.queue:
			j.write(context.Background(), e)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, e Entry) {
	if err := j.Record(ctx, e); err != nil {
		j.log.Error("failed to record switch", zap.Error(err))
	}
}

// Record inserts e synchronously.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO switches (at_unix_nano, outcome, previous, current) VALUES (?, ?, ?, ?)`,
		e.At.UnixNano(), e.Outcome, e.Previous, e.Current,
	)
	if err != nil {
		return fmt.Errorf("failed to insert switch: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at_unix_nano, outcome, previous, current
		 FROM switches
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query switches: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Outcome, &e.Previous, &e.Current); err != nil {
			return nil, fmt.Errorf("failed to scan switch: %w", err)
		}
		e.At = time.Unix(0, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded switches.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM switches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count switches: %w", err)
	}
	return n, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.dbPath
}

// Close closes the database connection. Entries still queued are lost;
// call Flush first.
func (j *Journal) Close() error {
	return j.db.Close()
}
