package service

import (
	"context"
	"time"

	"chatpush/internal/constants"

	"github.com/sirupsen/logrus"
)

// RetryProcessor runs one retry sweep cycle.
type RetryProcessor interface {
	ProcessRetries(ctx context.Context) error
}

// Scheduler triggers the retry sweep on a fixed wall-clock interval.
type Scheduler struct {
	retries     RetryProcessor
	intervalSec int
	logger      *logrus.Logger
	stopCh      chan struct{}
}

func NewScheduler(retries RetryProcessor, intervalSec int, logger *logrus.Logger) *Scheduler {
	if intervalSec <= 0 {
		intervalSec = constants.DefaultSweepIntervalSec
	}
	return &Scheduler{
		retries:     retries,
		intervalSec: intervalSec,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalSec) * time.Second)
	defer ticker.Stop()

	s.logger.WithField("intervalSec", s.intervalSec).Info("Starting retry sweep scheduler")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	s.logger.Info("Starting notification retry processing")

	if err := s.retries.ProcessRetries(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to process notification retries")
	} else {
		s.logger.Info("Notification retry processing complete")
	}
}
