// Package records persists analysis outcomes in the background and serves
// them back through the redis cache
package records

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"skin-api/internal/cache"
	"skin-api/internal/database"
	"skin-api/internal/shared"

	"go.uber.org/zap"
)

var ErrDisabled = errors.New("analysis records are disabled")

const saveTimeout = 10 * time.Second

type Recorder struct {
	db    *sql.DB
	cache *cache.AnalysisCache
	log   *zap.SugaredLogger

	mu       sync.Mutex
	inflight sync.WaitGroup
	closed   bool
}

// NewRecorder works with either dependency missing; without a db nothing is
// persisted and without a cache every read goes to the db
func NewRecorder(db *sql.DB, c *cache.AnalysisCache, log *zap.SugaredLogger) *Recorder {
	return &Recorder{db: db, cache: c, log: shared.OrNop(log)}
}

// Record saves rec without blocking the caller. The returned channel is
// closed once the write finished or was skipped.
func (r *Recorder) Record(rec *database.AnalysisRecord) <-chan struct{} {
	done := make(chan struct{})
	r.mu.Lock()
	if r.closed || r.db == nil {
		r.mu.Unlock()
		close(done)
		return done
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.inflight.Done()
			close(done)
		}()
		r.save(rec)
	}()
	return done
}

func (r *Recorder) save(rec *database.AnalysisRecord) {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := database.SaveAnalysis(ctx, r.db, rec)
		cancel()
		if err == nil {
			break
		}
		if attempt >= 3 {
			r.log.Errorw("Failed to save analysis record", "error", err, "request_id", rec.RequestID, "attempts", attempt)
			return
		}
		r.log.Warnw("Failed to save analysis record, retrying", "error", err, "request_id", rec.RequestID)
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
	r.log.Debugw("Saved analysis record", "request_id", rec.RequestID, "duration", time.Since(start).String())
	if r.cache != nil {
		<-r.cache.SetAsync(rec)
	}
}

// Get reads through the cache
func (r *Recorder) Get(ctx context.Context, requestID string) (*database.AnalysisRecord, error) {
	if r.cache != nil {
		if rec, ok := r.cache.Get(ctx, requestID); ok {
			return rec, nil
		}
	}
	if r.db == nil {
		return nil, ErrDisabled
	}
	rec, err := database.GetAnalysis(ctx, r.db, requestID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetAsync(rec)
	}
	return rec, nil
}

// Shutdown stops accepting records and waits for pending writes
func (r *Recorder) Shutdown() {
	r.log.Info("Shutting down recorder")
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shared.DefaultShutdownTimeout):
		r.log.Warn("Timed out waiting for analysis records to flush")
	}
}
