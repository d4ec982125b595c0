// Package recorder keeps a journal of every export stream address seen.
//
// The journal answers "which addresses does this aircraft export and what
// did they last hold" for the status API. It is never read back into the
// decoder.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize = 16
	defaultListLimit = 1000
)

// ErrNotFound is returned by Get for an address never seen.
var ErrNotFound = errors.New("recorder: address not found")

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// AddressRecord is one journal row.
type AddressRecord struct {
	Address    uint16    `json:"address"`
	LastValue  uint16    `json:"last_value"`
	LastSeen   time.Time `json:"last_seen"`
	WriteCount int64     `json:"write_count"`
}

// Stats holds writer counters.
type Stats struct {
	Batches uint64 `json:"batches"`
	Rows    uint64 `json:"rows"`
	Dropped uint64 `json:"dropped"`
	Errors  uint64 `json:"errors"`
}

type entry struct {
	address uint16
	value   uint16
	count   int64
}

type batch struct {
	seen    time.Time
	entries []entry
}

// Recorder is a Listener that upserts the addresses written in each frame
// into the stream_addresses table.
//
// OnWrite and OnFrameSync run on the bridge goroutine and never touch the
// database; a background writer applies each frame in one transaction.
// Frames arriving while the writer is behind are dropped and counted.
type Recorder struct {
	db  *sql.DB
	now func() time.Time

	frame map[uint16]entry
	queue chan batch

	stmt    *sql.Stmt
	started bool
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	batches atomic.Uint64
	rows    atomic.Uint64
	dropped atomic.Uint64
	errs    atomic.Uint64

	logger Logger
}

// New creates a recorder on db, which must have the stream_addresses table.
func New(db *sql.DB, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Recorder{
		db:    db,
		now:   time.Now,
		frame: make(map[uint16]entry),
		queue: make(chan batch, queueSize),
	}
}

// SetLogger sets the logger. Call before Start.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statement and launches the writer.
func (r *Recorder) Start() error {
	if r.started {
		return nil
	}
	stmt, err := r.db.Prepare(`
		INSERT INTO stream_addresses (address, last_value, last_seen, write_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			last_value = excluded.last_value,
			last_seen = excluded.last_seen,
			write_count = write_count + excluded.write_count
	`)
	if err != nil {
		return fmt.Errorf("preparing address upsert: %w", err)
	}
	r.stmt = stmt
	r.started = true

	r.wg.Add(1)
	go r.writeLoop()

	r.log("address recorder started")
	return nil
}

// Stop writes queued frames and releases the statement.
// Frames offered after Stop are dropped.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	if r.stmt != nil {
		r.stmt.Close()
	}
	r.log("address recorder stopped", "rows", r.rows.Load(), "dropped", r.dropped.Load())
}

// OnWrite notes value at address for the current frame.
func (r *Recorder) OnWrite(address, value uint16) {
	e := r.frame[address]
	e.address = address
	e.value = value
	e.count++
	r.frame[address] = e
}

// OnFrameSync queues the frame's addresses for writing.
func (r *Recorder) OnFrameSync() {
	if len(r.frame) == 0 {
		return
	}

	b := batch{seen: r.now(), entries: make([]entry, 0, len(r.frame))}
	for _, e := range r.frame {
		b.entries = append(b.entries, e)
	}
	clear(r.frame)
	sort.Slice(b.entries, func(i, j int) bool { return b.entries[i].address < b.entries[j].address })

	if !r.offer(b) {
		r.dropped.Add(1)
	}
}

func (r *Recorder) offer(b batch) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false
	}
	select {
	case r.queue <- b:
		return true
	default:
		return false
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for b := range r.queue {
		if err := r.write(b); err != nil {
			r.errs.Add(1)
			r.logError("recording frame", err)
			continue
		}
		r.batches.Add(1)
		r.rows.Add(uint64(len(b.entries)))
	}
}

func (r *Recorder) write(b batch) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt := tx.Stmt(r.stmt)
	seen := b.seen.UnixMilli()
	for _, e := range b.entries {
		if _, err := stmt.Exec(int64(e.address), int64(e.value), seen, e.count); err != nil {
			return fmt.Errorf("upserting address %#04x: %w", e.address, err)
		}
	}
	return tx.Commit()
}

// List returns up to limit records ordered by address. A limit of zero or
// less returns up to 1000.
func (r *Recorder) List(ctx context.Context, limit int) ([]AddressRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, last_value, last_seen, write_count
		FROM stream_addresses ORDER BY address LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}
	defer rows.Close()

	var records []AddressRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns the record for address.
func (r *Recorder) Get(ctx context.Context, address uint16) (AddressRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT address, last_value, last_seen, write_count
		FROM stream_addresses WHERE address = ?
	`, int64(address))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AddressRecord{}, ErrNotFound
	}
	return rec, err
}

// Count returns the number of addresses recorded.
func (r *Recorder) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stream_addresses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting addresses: %w", err)
	}
	return n, nil
}

// Stats returns writer counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Batches: r.batches.Load(),
		Rows:    r.rows.Load(),
		Dropped: r.dropped.Load(),
		Errors:  r.errs.Load(),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (AddressRecord, error) {
	var (
		address, value, seen, count int64
	)
	if err := s.Scan(&address, &value, &seen, &count); err != nil {
		return AddressRecord{}, err
	}
	return AddressRecord{
		Address:    uint16(address),
		LastValue:  uint16(value),
		LastSeen:   time.UnixMilli(seen),
		WriteCount: count,
	}, nil
}

func (r *Recorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
