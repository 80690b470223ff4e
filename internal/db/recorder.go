package db

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/banshee-data/standoff/internal/pipeline"
)

const (
	recorderBuffer     = 256
	recorderBatchSize  = 50
	recorderFlushEvery = time.Second
)

// Recorder is a pipeline.Sink that writes tick reports to the flight log in
// batches on its own goroutine. Reports are dropped, and counted, when the
// writer falls behind.
type Recorder struct {
	DB    *DB
	RunID string

	ch      chan pipeline.TickReport
	dropped atomic.Uint64
	written atomic.Uint64
}

func NewRecorder(db *DB, runID string) *Recorder {
	return &Recorder{
		DB:    db,
		RunID: runID,
		ch:    make(chan pipeline.TickReport, recorderBuffer),
	}
}

// Observe queues r for writing. It never blocks.
func (rec *Recorder) Observe(_ context.Context, r pipeline.TickReport) {
	select {
	case rec.ch <- r:
	default:
		if n := rec.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("flight log: writer behind, %d tick(s) dropped", n)
		}
	}
}

// Run writes queued reports until ctx is cancelled, then flushes whatever is
// still queued.
func (rec *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(recorderFlushEvery)
	defer ticker.Stop()

	batch := make([]pipeline.TickReport, 0, recorderBatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := rec.DB.InsertTicks(ctx, rec.RunID, batch); err != nil {
			log.Printf("flight log: failed to write %d tick(s): %v", len(batch), err)
		} else {
			rec.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r := <-rec.ch:
			batch = append(batch, r)
			if len(batch) >= recorderBatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			for {
				select {
				case r := <-rec.ch:
					batch = append(batch, r)
				default:
					flush(context.Background())
					return nil
				}
			}
		}
	}
}

// Dropped returns the number of reports discarded because the queue was full.
func (rec *Recorder) Dropped() uint64 { return rec.dropped.Load() }

// Written returns the number of reports committed to the database.
func (rec *Recorder) Written() uint64 { return rec.written.Load() }
