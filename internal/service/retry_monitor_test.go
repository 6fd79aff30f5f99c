package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

func TestRetryMonitor_CheckBacklog(t *testing.T) {
	db := &mockDatabase{}
	monitor := NewRetryMonitor(db, time.Minute, 10*time.Minute, testLogger())

	ctx := context.Background()

	db.On("CountOverdueRetries", mock.Anything, mock.Anything, 10*time.Minute).Return(3, nil).Once()
	db.On("CountFailures", mock.Anything).Return(1, nil).Once()

	monitor.checkBacklog(ctx)

	db.AssertExpectations(t)
}

func TestRetryMonitor_CheckBacklogEmpty(t *testing.T) {
	db := &mockDatabase{}
	monitor := NewRetryMonitor(db, time.Minute, 10*time.Minute, testLogger())

	db.On("CountOverdueRetries", mock.Anything, mock.Anything, 10*time.Minute).Return(0, nil).Once()
	db.On("CountFailures", mock.Anything).Return(0, nil).Once()

	monitor.checkBacklog(context.Background())

	db.AssertExpectations(t)
}

func TestRetryMonitor_CountError(t *testing.T) {
	db := &mockDatabase{}
	monitor := NewRetryMonitor(db, time.Minute, 10*time.Minute, testLogger())

	db.On("CountOverdueRetries", mock.Anything, mock.Anything, 10*time.Minute).Return(0, context.DeadlineExceeded).Once()

	monitor.checkBacklog(context.Background())

	// Counting failures is skipped once the overdue query errors
	db.AssertNotCalled(t, "CountFailures", mock.Anything)
}

func TestRetryMonitor_StartStop(t *testing.T) {
	db := &mockDatabase{}
	monitor := NewRetryMonitor(db, time.Minute, 10*time.Minute, testLogger())

	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		monitor.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	monitor.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor did not stop within timeout")
	}
}
