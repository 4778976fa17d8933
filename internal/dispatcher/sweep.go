package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

// sweepBatchSize bounds how many stale events one sweep pass republished.
const sweepBatchSize = 100

// EventPublisher enqueues a dispatch job for an event.
type EventPublisher interface {
	PublishEvent(eventID uuid.UUID) error
}

// Sweeper is the crash-recovery loop. Events persist before dispatch, so a
// crash between persistence and delivery leaves rows in received/processing
// with no in-flight job; the sweeper periodically republishes them.
type Sweeper struct {
	cfg       *config.SweepConfig
	events    *repository.EventRepository
	publisher EventPublisher
	logger    *zap.Logger
}

func NewSweeper(cfg *config.SweepConfig, events *repository.EventRepository, publisher EventPublisher, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		cfg:       cfg,
		events:    events,
		publisher: publisher,
		logger:    logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Recovery sweep started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("stale_after", s.cfg.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Recovery sweep stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	stale, err := s.events.FindStale(ctx, s.cfg.StaleAfter, sweepBatchSize)
	if err != nil {
		s.logger.Error("Sweep failed to scan for stale events", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}

	republished := 0
	for _, event := range stale {
		if err := s.publisher.PublishEvent(event.ID); err != nil {
			// Next tick retries; publishing is best-effort
			s.logger.Warn("Sweep failed to republish stale event",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			continue
		}
		republished++
	}

	s.logger.Info("Recovery sweep republished stale events",
		zap.Int("found", len(stale)),
		zap.Int("republished", republished),
	)
}
