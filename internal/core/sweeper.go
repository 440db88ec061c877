package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatline-server/internal/metrics"
	"github.com/vovakirdan/chatline-server/internal/store"
)

// Sweeper periodically repairs state left behind by interrupted writes.
type Sweeper struct {
	store    store.Sweeper
	interval time.Duration
	logger   *zerolog.Logger
}

// NewSweeper creates a sweeper. A zero interval disables the periodic loop.
func NewSweeper(st store.Sweeper, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Sweeper{store: st, interval: interval, logger: logger}
}

// SweepOnce runs a single sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (store.SweepReport, error) {
	report, err := s.store.Sweep(ctx)
	metrics.SweptRecords.WithLabelValues("pending_deletion").Add(float64(report.FinishedDeletions))
	metrics.SweptRecords.WithLabelValues("orphaned_message").Add(float64(report.OrphanedMessages))
	metrics.SweptRecords.WithLabelValues("dangling_ref").Add(float64(report.DanglingRefs))
	if err != nil {
		return report, err
	}
	if report.Total() > 0 {
		s.logger.Info().
			Int64("finished_deletions", report.FinishedDeletions).
			Int64("orphaned_messages", report.OrphanedMessages).
			Int64("dangling_refs", report.DanglingRefs).
			Msg("sweep repaired records")
	}
	return report, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("sweep failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
