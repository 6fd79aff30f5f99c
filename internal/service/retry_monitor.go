package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryCounter exposes the backlog counts the monitor watches.
type RetryCounter interface {
	CountOverdueRetries(ctx context.Context, now time.Time, threshold time.Duration) (int, error)
	CountFailures(ctx context.Context) (int, error)
}

// RetryMonitor periodically reports retry items that have been due for longer
// than the threshold (a stuck-sweep signal) and the size of the failure
// archive. Observability only; it never mutates state.
type RetryMonitor struct {
	db               RetryCounter
	checkInterval    time.Duration
	overdueThreshold time.Duration
	logger           *logrus.Logger
	stopCh           chan struct{}
}

func NewRetryMonitor(db RetryCounter, checkInterval, overdueThreshold time.Duration, logger *logrus.Logger) *RetryMonitor {
	return &RetryMonitor{
		db:               db,
		checkInterval:    checkInterval,
		overdueThreshold: overdueThreshold,
		logger:           logger,
		stopCh:           make(chan struct{}),
	}
}

func (m *RetryMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval":    m.checkInterval,
		"overdue_threshold": m.overdueThreshold,
	}).Info("Starting retry monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBacklog(ctx)
		}
	}
}

func (m *RetryMonitor) Stop() {
	close(m.stopCh)
}

func (m *RetryMonitor) checkBacklog(ctx context.Context) {
	overdue, err := m.db.CountOverdueRetries(ctx, time.Now(), m.overdueThreshold)
	if err != nil {
		m.logger.WithError(err).Error("Failed to count overdue retries")
		return
	}

	if overdue > 0 {
		m.logger.WithFields(logrus.Fields{
			"overdue_count":     overdue,
			"overdue_threshold": m.overdueThreshold,
		}).Warn("Retry items overdue beyond threshold")
	}

	failures, err := m.db.CountFailures(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to count failure records")
		return
	}

	if failures > 0 {
		m.logger.WithField("failure_count", failures).Warn("Failure archive has records requiring manual investigation")
	}
}
