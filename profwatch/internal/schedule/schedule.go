// Package schedule drives the periodic monitoring cycle.
//
// On every tick it publishes one check job per active roster entry to the
// queue, in roster order. The queue consumer works through the jobs one at a
// time; this package never touches the browser.
package schedule

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hazyhaar/vigie/idgen"
	"github.com/hazyhaar/vigie/profwatch/internal/store"
	"github.com/hazyhaar/vigie/vtq"
)

// Config controls the scheduler behaviour.
type Config struct {
	// CheckInterval is how often a full roster pass is queued.
	CheckInterval time.Duration
	// RunOnStart queues a pass immediately instead of waiting a full
	// interval for the first tick.
	RunOnStart bool
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
}

// CheckJob is the queue payload for one profile check.
type CheckJob struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	BatchID  string `json:"batch_id"`
}

// Scheduler queues roster passes on a fixed interval.
type Scheduler struct {
	store  *store.Store
	queue  *vtq.Q
	config Config
	logger *slog.Logger
	newID  idgen.Generator
}

// New creates a scheduler.
func New(s *store.Store, q *vtq.Q, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: s, queue: q, config: cfg, logger: logger, newID: idgen.Default}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("schedule: started", "check_interval", s.config.CheckInterval)

	if s.config.RunOnStart {
		if err := s.Enqueue(ctx); err != nil {
			s.logger.Warn("schedule: initial pass failed", "error", err)
		}
	}

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("schedule: stopped")
			return
		case <-ticker.C:
			if err := s.Enqueue(ctx); err != nil {
				s.logger.Warn("schedule: pass failed", "error", err)
			}
		}
	}
}

// Enqueue publishes one check job per active roster entry. When the previous
// pass has not drained yet the roster is skipped entirely; overlapping passes
// would hammer the same session.
func (s *Scheduler) Enqueue(ctx context.Context) error {
	pending, err := s.queue.Len(ctx)
	if err != nil {
		return err
	}
	if pending > 0 {
		s.logger.Warn("schedule: previous pass still draining, skipping", "pending", pending)
		return nil
	}

	watched, err := s.store.ListWatched(ctx, true)
	if err != nil {
		return err
	}
	if len(watched) == 0 {
		s.logger.Info("schedule: roster is empty")
		return nil
	}

	batchID := idgen.NanoID(8)()
	var queued int
	for _, w := range watched {
		job := CheckJob{Identity: w.Identity, Name: w.Name, BatchID: batchID}
		payload, _ := json.Marshal(job)

		if err := s.queue.Publish(ctx, s.newID(), payload); err != nil {
			s.logger.Warn("schedule: publish failed", "identity", w.Identity, "error", err)
			continue
		}
		queued++
	}

	s.logger.Info("schedule: queued roster pass", "batch_id", batchID, "count", queued)
	return nil
}
