// Package journal records the lifecycle of every load in SQLite.
//
// A Journal is a loader.Observer. Notifications arrive on the loader's
// goroutine and are handed to a background writer, so a slow disk never
// stalls admission. When the writer falls behind, intermediate notifications
// are dropped and counted. Terminal notifications are never dropped: they wait
// in an overflow set keyed by request id until the writer catches up.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/loadsched/internal/loader"
)

const defaultBuffer = 1024

// Journal writes loader.RequestInfo snapshots into load_log.
type Journal struct {
	loader.NopObserver

	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	in     chan op
	wake   chan struct{}
	done   chan struct{}

	overflowMu sync.Mutex
	overflow   map[string]loader.RequestInfo

	written atomic.Uint64
	dropped atomic.Uint64
}

type op struct {
	info    loader.RequestInfo
	barrier chan struct{}
}

// New starts a Journal writing to db. buffer bounds the pending writes.
func New(db *sql.DB, logger *slog.Logger, buffer int) *Journal {
	j := newUnstarted(db, logger, buffer)
	go j.writer()
	return j
}

// newUnstarted builds a Journal whose writer has not been started.
func newUnstarted(db *sql.DB, logger *slog.Logger, buffer int) *Journal {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		db:       db,
		logger:   logger.With("component", "journal"),
		now:      time.Now,
		in:       make(chan op, buffer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		overflow: make(map[string]loader.RequestInfo),
	}
}

// RequestChanged implements loader.Observer. It never blocks. A terminal
// update supersedes any earlier one for the same id, so only intermediate
// updates are ever dropped.
func (j *Journal) RequestChanged(info loader.RequestInfo) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.in <- op{info: info}:
		return
	default:
	}
	if info.State.Terminal() {
		j.overflowMu.Lock()
		j.overflow[info.ID] = info
		j.overflowMu.Unlock()
		select {
		case j.wake <- struct{}{}:
		default:
		}
		return
	}
	if j.dropped.Add(1) == 1 {
		j.logger.Warn("journal writer is behind; dropping intermediate updates")
	}
}

// Flush waits until every update queued before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	select {
	case j.in <- op{barrier: barrier}:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting updates and waits for the writer to drain.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.in)
	j.mu.Unlock()
	<-j.done
}

// Written and Dropped count journal updates.
func (j *Journal) Written() uint64 { return j.written.Load() }
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

func (j *Journal) writer() {
	defer close(j.done)
	for {
		select {
		case o, ok := <-j.in:
			if !ok {
				j.writeOverflow()
				return
			}
			if o.barrier != nil {
				j.writeOverflow()
				close(o.barrier)
				continue
			}
			j.write(o.info)
		case <-j.wake:
		}
		j.writeOverflow()
	}
}

// writeOverflow writes the terminal updates that found the buffer full.
func (j *Journal) writeOverflow() {
	j.overflowMu.Lock()
	if len(j.overflow) == 0 {
		j.overflowMu.Unlock()
		return
	}
	pending := j.overflow
	j.overflow = make(map[string]loader.RequestInfo)
	j.overflowMu.Unlock()

	for _, info := range pending {
		j.write(info)
	}
}

func (j *Journal) write(info loader.RequestInfo) {
	if err := j.upsert(context.Background(), info); err != nil {
		j.logger.Error("write load_log", "request_id", info.ID, "error", err)
		return
	}
	j.written.Add(1)
}

func (j *Journal) upsert(ctx context.Context, info loader.RequestInfo) error {
	var errText, startedAt, completedAt any
	if info.Error != "" {
		errText = info.Error
	}
	if info.StartedAt != nil {
		startedAt = formatTime(*info.StartedAt)
	}
	if info.CompletedAt != nil {
		completedAt = formatTime(*info.CompletedAt)
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO load_log(
  id, owner, url, endpoint, kind, priority, state, error, enqueued_at, started_at, completed_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  priority     = excluded.priority,
  state        = excluded.state,
  error        = COALESCE(excluded.error, load_log.error),
  started_at   = COALESCE(excluded.started_at, load_log.started_at),
  completed_at = COALESCE(excluded.completed_at, load_log.completed_at),
  updated_at   = excluded.updated_at
WHERE load_log.state NOT IN ('completed', 'failed', 'cancelled');
`,
		info.ID, string(info.Owner), info.URL, string(info.Endpoint), info.Kind.String(), info.Priority.String(),
		info.State.String(), errText, formatTime(info.EnqueuedAt), startedAt, completedAt, formatTime(j.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert load %s: %w", info.ID, err)
	}
	return nil
}

const selectColumns = `id, owner, url, endpoint, kind, priority, state, error, enqueued_at, started_at, completed_at, updated_at`

// Get returns the record with id.
func (j *Journal) Get(ctx context.Context, id string) (*Record, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM load_log WHERE id = ?;`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get load %s: %w", id, err)
	}
	return rec, nil
}

// ListByOwner returns owner's loads, oldest first. limit <= 0 means no limit.
func (j *Journal) ListByOwner(ctx context.Context, owner string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM load_log
WHERE owner = ?
ORDER BY enqueued_at ASC, rowid ASC
LIMIT ?;
`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list loads for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan load: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Prune deletes terminal records that completed before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
DELETE FROM load_log
WHERE state IN ('completed', 'failed', 'cancelled') AND completed_at < ?;
`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune load_log: %w", err)
	}
	return res.RowsAffected()
}

// RunRetention prunes records older than retention every interval until ctx
// is done.
func (j *Journal) RunRetention(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Prune(ctx, j.now().Add(-retention))
			if err != nil {
				j.logger.Warn("retention prune failed", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Info("pruned load_log", "rows", n)
			}
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		r            Record
		errText      sql.NullString
		enqueuedAtS  string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		updatedAtS   string
	)
	if err := s.Scan(
		&r.ID, &r.Owner, &r.URL, &r.Endpoint, &r.Kind, &r.Priority, &r.State, &errText,
		&enqueuedAtS, &startedAtS, &completedAtS, &updatedAtS,
	); err != nil {
		return nil, err
	}

	if errText.Valid {
		r.Error = &errText.String
	}
	if t, err := parseTime(enqueuedAtS); err == nil {
		r.EnqueuedAt = t
	}
	if t, err := parseTime(updatedAtS); err == nil {
		r.UpdatedAt = t
	}
	if startedAtS.Valid {
		if t, err := parseTime(startedAtS.String); err == nil {
			r.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := parseTime(completedAtS.String); err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}
