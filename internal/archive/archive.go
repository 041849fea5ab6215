package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/llmrtc/llmrtc/internal/turn"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultBatchSize     = 64
	defaultQueueSize     = 1024

	// drainTimeout bounds the final flush after Run's context ends.
	drainTimeout = 5 * time.Second
)

// exchangeColumns matches the CopyFrom tuple order in flush.
var exchangeColumns = []string{"session_id", "generation", "role", "text", "spoken_at", "took_ns"}

// Config tunes the batching writer. The zero value gets usable defaults.
type Config struct {
	// FlushInterval is the longest a queued exchange waits before it is
	// written out.
	FlushInterval time.Duration

	// BatchSize flushes early once this many exchanges are buffered.
	BatchSize int

	// QueueSize bounds the handoff queue between the turn path and the
	// flush loop. A full queue drops new exchanges rather than block.
	QueueSize int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Writer batches committed exchanges into the exchanges table.
//
// Archive is safe for concurrent use across sessions. Run must be started
// exactly once for anything to reach the database.
type Writer struct {
	pool    *pgxpool.Pool
	queue   chan turn.Exchange
	cfg     Config
	log     *slog.Logger
	dropped atomic.Uint64
}

var _ turn.Archiver = (*Writer)(nil)

// New connects to the PostgreSQL database at dsn and runs [Migrate] to
// ensure the exchanges table exists.
func New(ctx context.Context, dsn string, cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &Writer{
		pool:  pool,
		queue: make(chan turn.Exchange, cfg.QueueSize),
		cfg:   cfg,
		log:   cfg.Logger,
	}, nil
}

// Archive implements [turn.Archiver]. It queues ex for the next flush and
// never blocks: when the queue is full the exchange is dropped and counted.
func (w *Writer) Archive(ex turn.Exchange) {
	select {
	case w.queue <- ex:
	default:
		w.dropped.Add(1)
	}
}

// Run is the flush loop. Buffered exchanges are written every FlushInterval
// and early once BatchSize of them have accumulated. When ctx ends, Run
// drains whatever the turn path managed to queue, takes one last bounded
// shot at writing it, and returns nil.
//
// A failed flush keeps the batch for the next attempt; the retry buffer is
// capped at QueueSize, dropping oldest first.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []turn.Exchange
	for {
		select {
		case ex := <-w.queue:
			pending = w.buffer(pending, ex)
			if len(pending) >= w.cfg.BatchSize {
				pending = w.flush(ctx, pending)
			}
		case <-ticker.C:
			pending = w.flush(ctx, pending)
		case <-ctx.Done():
			for {
				select {
				case ex := <-w.queue:
					pending = w.buffer(pending, ex)
				default:
					fctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
					defer cancel()
					w.flush(fctx, pending)
					return nil
				}
			}
		}
	}
}

// buffer appends ex, dropping the oldest entry when flush failures have
// already backed up a full queue's worth.
func (w *Writer) buffer(pending []turn.Exchange, ex turn.Exchange) []turn.Exchange {
	if len(pending) >= w.cfg.QueueSize {
		w.dropped.Add(1)
		pending = pending[1:]
	}
	return append(pending, ex)
}

// flush writes pending in a single COPY. On failure the batch is returned
// unwritten for a later attempt.
func (w *Writer) flush(ctx context.Context, pending []turn.Exchange) []turn.Exchange {
	if len(pending) == 0 {
		return pending
	}
	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"exchanges"}, exchangeColumns,
		pgx.CopyFromSlice(len(pending), func(i int) ([]any, error) {
			ex := pending[i]
			return []any{
				ex.SessionID,
				int64(ex.Generation),
				ex.Role,
				ex.Text,
				ex.At,
				ex.Took.Nanoseconds(),
			}, nil
		}))
	if err != nil {
		w.log.Warn("archive flush failed", "exchanges", len(pending), "error", err)
		return pending
	}
	return pending[:0]
}

// Ping reports whether the database is reachable. Health checks use it.
func (w *Writer) Ping(ctx context.Context) error {
	if err := w.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive: ping: %w", err)
	}
	return nil
}

// Dropped returns how many exchanges were discarded because the queue or
// the retry buffer was full.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Close releases the connection pool. Stop Run first so the final drain can
// still reach the database.
func (w *Writer) Close() { w.pool.Close() }
