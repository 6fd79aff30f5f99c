package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"chatpush/internal/constants"
	"chatpush/internal/crypto"
	"chatpush/internal/errors"
	"chatpush/internal/models"
	"chatpush/internal/tracing"
	"chatpush/pkg/push"

	"github.com/sirupsen/logrus"
)

const (
	captionImage     = "📷 Sent an image"
	captionGeneric   = "Sent a message"
	captionEncrypted = "Sent an encrypted message"
)

// NotificationDatabase is the slice of the store the dispatcher needs.
type NotificationDatabase interface {
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	MarkMessageDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error
	RemoveParticipantToken(ctx context.Context, chatID, token string) (string, error)
}

// RetryStore records a partially failed dispatch for later redelivery.
type RetryStore interface {
	StoreFailedNotification(ctx context.Context, messageID, chatID string, recipientIDs []string, failedTokens map[string][]string, cause string) error
}

type NotificationService interface {
	HandleMessageCreated(ctx context.Context, messageID, chatID string) error
	DispatchToRecipients(ctx context.Context, msg *models.Message, chat *models.Chat, recipients []models.Participant) *models.DispatchResult
}

type notificationService struct {
	db      NotificationDatabase
	gateway push.Client
	retries RetryStore
	logger  *logrus.Logger
}

func NewNotificationService(db NotificationDatabase, gateway push.Client, retries RetryStore, logger *logrus.Logger) NotificationService {
	return &notificationService{
		db:      db,
		gateway: gateway,
		retries: retries,
		logger:  logger,
	}
}

// HandleMessageCreated processes one new-message event: it resolves the
// recipients, fans the notification out, marks the message delivered when at
// least one send succeeded, and queues the failed remainder for retry.
func (s *notificationService) HandleMessageCreated(ctx context.Context, messageID, chatID string) error {
	ctx, span := tracing.StartSpan(ctx, "notification.handle_message")
	defer span.End()

	log := s.logger.WithFields(logrus.Fields{
		"messageId": messageID,
		"chatId":    chatID,
	})

	msg, err := s.db.GetMessage(ctx, messageID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load message")
	}
	if msg == nil {
		log.Warn("Message not found, skipping notification")
		return nil
	}

	chat, err := s.db.GetChat(ctx, chatID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load chat")
	}
	if chat == nil {
		log.Error("Chat not found, skipping notification")
		return nil
	}

	log.WithFields(logrus.Fields{
		"senderId":    msg.SenderID,
		"messageType": msg.MessageType,
	}).Info("Processing new message")

	recipients := chat.Recipients(msg.SenderID)
	if len(recipients) == 0 {
		log.Info("No recipients to notify")
		return nil
	}

	if len(recipients) > constants.RecipientWarningThreshold {
		log.WithField("recipientCount", len(recipients)).Warn("Chat has many recipients, limiting notifications")
	}
	if len(recipients) > constants.MaxRecipientsPerDispatch {
		recipients = recipients[:constants.MaxRecipientsPerDispatch]
	}

	if msg.EncryptedContent != "" && chat.EncryptionKey == "" {
		log.Warn("Message is encrypted but chat has no encryption key")
	}

	result := s.DispatchToRecipients(ctx, msg, chat, recipients)

	if len(result.Success) > 0 {
		if err := s.db.MarkMessageDelivered(ctx, msg.MessageID, time.Now()); err != nil {
			log.WithError(err).Error("Failed to mark message as delivered")
		} else {
			log.WithField("successCount", len(result.Success)).Info("Message marked as delivered")
		}
	}

	if retryable := result.RetryableFailed(); len(retryable) > 0 {
		recipientIDs := make([]string, 0, len(recipients))
		for _, r := range recipients {
			recipientIDs = append(recipientIDs, r.UserID)
		}

		if err := s.retries.StoreFailedNotification(ctx, msg.MessageID, chat.ChatID, recipientIDs, retryable, "Initial send partially failed"); err != nil {
			log.WithError(err).Error("Failed to store retry item")
		} else {
			log.WithField("failedUserCount", len(retryable)).Warn("Some notifications failed, stored for retry")
		}
	}

	log.WithFields(logrus.Fields{
		"successCount": len(result.Success),
		"failedCount":  result.FailedCount(),
	}).Info("Message notification processing complete")

	return nil
}

// DispatchToRecipients attempts one send per token, all concurrently. Every
// token is attempted exactly once; a failing sibling never cancels the rest.
// Tokens the gateway reports as permanently invalid are removed from the
// participant directory before returning.
func (s *notificationService) DispatchToRecipients(ctx context.Context, msg *models.Message, chat *models.Chat, recipients []models.Participant) *models.DispatchResult {
	ctx, span := tracing.StartSpan(ctx, "notification.dispatch")
	defer span.End()

	payload := s.buildPayload(msg, chat)

	result := &models.DispatchResult{
		Success: []string{},
		Failed:  map[string][]string{},
		Invalid: map[string][]string{},
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, recipient := range recipients {
		for _, token := range recipient.Tokens {
			wg.Add(1)
			go func(userID, token string) {
				defer wg.Done()

				err := s.gateway.Send(ctx, token, payload)

				mu.Lock()
				if err == nil {
					result.Success = append(result.Success, token)
				} else {
					result.Failed[userID] = append(result.Failed[userID], token)
					if push.IsInvalidToken(err) {
						result.Invalid[userID] = append(result.Invalid[userID], token)
					}
				}
				mu.Unlock()

				if err == nil {
					s.logger.WithFields(logrus.Fields{
						"messageId": msg.MessageID,
						"token":     maskToken(token),
					}).Info("Notification sent successfully")
					return
				}

				s.logger.WithError(err).WithFields(logrus.Fields{
					"messageId": msg.MessageID,
					"token":     maskToken(token),
				}).Error("Failed to send notification")

				if push.IsInvalidToken(err) {
					s.removeInvalidToken(ctx, chat.ChatID, token)
				}
			}(recipient.UserID, token)
		}
	}

	wg.Wait()
	return result
}

// removeInvalidToken purges a permanently invalid token from the directory.
// Best effort: its own failure is logged and swallowed.
func (s *notificationService) removeInvalidToken(ctx context.Context, chatID, token string) {
	userID, err := s.db.RemoveParticipantToken(ctx, chatID, token)
	if err != nil {
		s.logger.WithError(err).WithField("chatId", chatID).Error("Failed to remove invalid token")
		return
	}
	if userID == "" {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"chatId": chatID,
		"userId": userID,
		"token":  maskToken(token),
	}).Info("Removed invalid delivery token")
}

func (s *notificationService) buildPayload(msg *models.Message, chat *models.Chat) *push.Payload {
	data := map[string]string{
		"chatId":      msg.ChatID,
		"messageId":   msg.MessageID,
		"senderId":    msg.SenderID,
		"senderName":  msg.SenderName,
		"messageType": string(msg.MessageType),
		"timestamp":   strconv.FormatInt(msg.CreatedAt.UnixMilli(), 10),
		"clickAction": constants.ClickActionOpenChat,
	}
	if msg.MediaURL != nil && *msg.MediaURL != "" {
		data["mediaUrl"] = *msg.MediaURL
	}

	return &push.Payload{
		Notification: &push.Notification{
			Title: msg.SenderName,
			Body:  s.buildNotificationBody(msg, chat.EncryptionKey),
		},
		Data:      data,
		Priority:  "high",
		ChannelID: constants.NotificationChannelID,
		Sound:     "default",
	}
}

// buildNotificationBody derives the preview text. Decryption failure is never
// fatal here: it only degrades the preview to a generic caption.
func (s *notificationService) buildNotificationBody(msg *models.Message, encryptionKey string) string {
	if msg.MessageType != models.MessageTypeText {
		switch msg.MessageType {
		case models.MessageTypeImage:
			return captionImage
		default:
			return captionGeneric
		}
	}

	content := msg.Content
	if content == "" && msg.EncryptedContent != "" {
		decrypted, err := crypto.DecryptContent(msg.EncryptedContent, encryptionKey)
		if err != nil {
			s.logger.WithError(err).WithField("messageId", msg.MessageID).Debug("Failed to decrypt message content")
			return captionEncrypted
		}
		content = decrypted
	}

	return truncateText(content, constants.MaxNotificationBodyLength)
}

func truncateText(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	return string(runes[:maxLength]) + "..."
}

func maskToken(token string) string {
	if len(token) <= constants.TokenLogPrefixLength {
		return token
	}
	return fmt.Sprintf("%s...", token[:constants.TokenLogPrefixLength])
}
