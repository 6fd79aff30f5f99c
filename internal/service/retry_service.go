package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatpush/internal/constants"
	"chatpush/internal/errors"
	"chatpush/internal/models"
	"chatpush/internal/tracing"
	"chatpush/pkg/push"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// retryDelays is the fixed redelivery schedule: the delay before attempt n+1
// is retryDelays[n]. Deterministic, no jitter.
var retryDelays = [constants.MaxRetryAttempts]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// RetryDatabase is the slice of the store the retry sweeper needs.
type RetryDatabase interface {
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	RemoveParticipantToken(ctx context.Context, chatID, token string) (string, error)
	SaveRetry(ctx context.Context, item *models.RetryItem) error
	GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.RetryItem, error)
	UpdateRetry(ctx context.Context, item *models.RetryItem) error
	DeleteRetry(ctx context.Context, retryID string) error
	SaveFailure(ctx context.Context, record *models.FailureRecord) error
}

// RetryService owns the durable retry queue and its state machine: items are
// created on partial dispatch failure, advanced on each sweep, and end up
// either resolved, re-queued with backoff, or archived.
type RetryService struct {
	db        RetryDatabase
	gateway   push.Client
	batchSize int
	logger    *logrus.Logger
}

func NewRetryService(db RetryDatabase, gateway push.Client, batchSize int, logger *logrus.Logger) *RetryService {
	if batchSize <= 0 {
		batchSize = constants.DefaultSweepBatchSize
	}
	return &RetryService{
		db:        db,
		gateway:   gateway,
		batchSize: batchSize,
		logger:    logger,
	}
}

// StoreFailedNotification persists a new retry item for a dispatch that left
// at least one token undelivered.
func (s *RetryService) StoreFailedNotification(ctx context.Context, messageID, chatID string, recipientIDs []string, failedTokens map[string][]string, cause string) error {
	now := time.Now()
	item := &models.RetryItem{
		RetryID:      uuid.NewString(),
		MessageID:    messageID,
		ChatID:       chatID,
		RecipientIDs: recipientIDs,
		FailedTokens: failedTokens,
		AttemptCount: 1,
		NextRetryAt:  now.Add(retryDelays[0]),
		LastError:    cause,
		CreatedAt:    now,
	}

	if err := s.db.SaveRetry(ctx, item); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to store retry item")
	}

	s.logger.WithFields(logrus.Fields{
		"retryId":        item.RetryID,
		"messageId":      messageID,
		"recipientCount": len(recipientIDs),
	}).Info("Stored failed notification for retry")

	return nil
}

// ProcessRetries runs one sweep cycle: it loads due items up to the batch size
// and advances each one concurrently. One item's failure never aborts the
// others.
func (s *RetryService) ProcessRetries(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "retry.sweep")
	defer span.End()

	items, err := s.db.GetDueRetries(ctx, time.Now(), s.batchSize)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to query due retries")
	}

	if len(items) == 0 {
		s.logger.Debug("No retries to process")
		return nil
	}

	s.logger.WithField("count", len(items)).Info("Processing retry attempts")

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item *models.RetryItem) {
			defer wg.Done()
			if err := s.processRetry(ctx, item); err != nil {
				s.logger.WithError(err).WithField("retryId", item.RetryID).Error("Error processing retry")
			}
		}(item)
	}
	wg.Wait()

	return nil
}

// processRetry advances one item through the state machine.
func (s *RetryService) processRetry(ctx context.Context, item *models.RetryItem) error {
	log := s.logger.WithFields(logrus.Fields{
		"retryId":   item.RetryID,
		"messageId": item.MessageID,
	})

	msg, err := s.db.GetMessage(ctx, item.MessageID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load message for retry")
	}

	// Orphan cleanup: the message or its conversation was removed upstream.
	// Not a failure, so it never reaches the archive.
	if msg == nil {
		log.Warn("Message no longer exists, deleting retry")
		return s.db.DeleteRetry(ctx, item.RetryID)
	}

	failedAgain := s.resendFailedTokens(ctx, item, log)

	if len(failedAgain) == 0 {
		if err := s.db.DeleteRetry(ctx, item.RetryID); err != nil {
			return err
		}
		log.Info("All retry notifications sent successfully")
		return nil
	}

	if item.AttemptCount >= constants.MaxRetryAttempts {
		if err := s.moveToFailures(ctx, item, failedAgain); err != nil {
			return err
		}
		if err := s.db.DeleteRetry(ctx, item.RetryID); err != nil {
			return err
		}
		log.Warn("Max retry attempts reached, moved to failures")
		return nil
	}

	previousAttempt := item.AttemptCount
	item.AttemptCount++
	item.FailedTokens = failedAgain
	item.NextRetryAt = time.Now().Add(retryDelays[item.AttemptCount-1])
	item.LastError = fmt.Sprintf("Retry attempt %d partially failed", previousAttempt)

	if err := s.db.UpdateRetry(ctx, item); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"nextAttempt": item.AttemptCount,
		"nextRetryAt": item.NextRetryAt,
	}).Info("Updated retry for next attempt")

	return nil
}

// resendFailedTokens re-attempts every token still recorded as failed and
// returns the subset that failed again. The retry path sends a bare
// token-targeted delivery rather than rebuilding the full payload. Tokens
// that turned permanently invalid are purged from the directory and dropped
// from the failing set rather than retried forever.
func (s *RetryService) resendFailedTokens(ctx context.Context, item *models.RetryItem, log *logrus.Entry) map[string][]string {
	failedAgain := map[string][]string{}

	for userID, tokens := range item.FailedTokens {
		for _, token := range tokens {
			err := s.gateway.Send(ctx, token, nil)
			if err == nil {
				log.WithFields(logrus.Fields{
					"userId":       userID,
					"attemptCount": item.AttemptCount,
				}).Info("Retry notification sent successfully")
				continue
			}

			if push.IsInvalidToken(err) {
				s.purgeInvalidToken(ctx, item.ChatID, token)
				continue
			}

			failedAgain[userID] = append(failedAgain[userID], token)
			log.WithError(err).WithFields(logrus.Fields{
				"userId":       userID,
				"attemptCount": item.AttemptCount,
			}).Warn("Retry notification failed")
		}
	}

	return failedAgain
}

func (s *RetryService) purgeInvalidToken(ctx context.Context, chatID, token string) {
	userID, err := s.db.RemoveParticipantToken(ctx, chatID, token)
	if err != nil {
		s.logger.WithError(err).WithField("chatId", chatID).Error("Failed to remove invalid token during retry")
		return
	}
	if userID != "" {
		s.logger.WithFields(logrus.Fields{
			"chatId": chatID,
			"userId": userID,
			"token":  maskToken(token),
		}).Info("Removed invalid delivery token during retry")
	}
}

func (s *RetryService) moveToFailures(ctx context.Context, item *models.RetryItem, finalFailedTokens map[string][]string) error {
	record := &models.FailureRecord{
		FailureID:                   uuid.NewString(),
		MessageID:                   item.MessageID,
		ChatID:                      item.ChatID,
		RecipientIDs:                item.RecipientIDs,
		FailedTokens:                finalFailedTokens,
		TotalAttempts:               constants.MaxRetryAttempts,
		FinalError:                  item.LastError,
		RequiresManualInvestigation: true,
		CreatedAt:                   time.Now(),
	}

	if err := s.db.SaveFailure(ctx, record); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to archive exhausted retry")
	}

	s.logger.WithFields(logrus.Fields{
		"failureId": record.FailureID,
		"messageId": item.MessageID,
	}).Info("Moved failed notification to failure archive")

	return nil
}
