package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"chatpush/internal/migrations"
	"chatpush/internal/models"
	"chatpush/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Message operations. Messages are created by the chat backend; this store
// only reads them and flips the delivery fields.

func (d *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT OR REPLACE INTO messages (
			message_id, chat_id, sender_id, sender_name, content,
			encrypted_content, message_type, media_url, is_delivered,
			delivered_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.ExecContext(ctx, query,
		msg.MessageID, msg.ChatID, msg.SenderID, msg.SenderName, msg.Content,
		msg.EncryptedContent, msg.MessageType, msg.MediaURL, msg.IsDelivered,
		msg.DeliveredAt, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

func (d *Database) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	query := `
		SELECT message_id, chat_id, sender_id, sender_name, content,
		       encrypted_content, message_type, media_url, is_delivered,
		       delivered_at, created_at
		FROM messages
		WHERE message_id = ?
	`

	msg := &models.Message{}
	err := d.db.QueryRowContext(ctx, query, messageID).Scan(
		&msg.MessageID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Content,
		&msg.EncryptedContent,
		&msg.MessageType,
		&msg.MediaURL,
		&msg.IsDelivered,
		&msg.DeliveredAt,
		&msg.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

func (d *Database) MarkMessageDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error {
	query := `
		UPDATE messages
		SET is_delivered = 1, delivered_at = ?
		WHERE message_id = ?
	`

	result, err := d.db.ExecContext(ctx, query, deliveredAt, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message delivered: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no message found with ID: %s", messageID)
	}

	return nil
}

// Chat and participant directory operations.

func (d *Database) SaveChat(ctx context.Context, chat *models.Chat) error {
	query := `
		INSERT OR REPLACE INTO chats (chat_id, chat_type, group_name, encryption_key, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	createdAt := chat.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := d.db.ExecContext(ctx, query, chat.ChatID, chat.ChatType, chat.GroupName, chat.EncryptionKey, createdAt); err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}

	for _, p := range chat.Participants {
		if _, err := d.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO chat_participants (chat_id, user_id, display_name) VALUES (?, ?, ?)`,
			chat.ChatID, p.UserID, p.DisplayName); err != nil {
			return fmt.Errorf("failed to save participant: %w", err)
		}

		for _, token := range p.Tokens {
			encryptedToken, err := d.encryptor.EncryptForLookup(token)
			if err != nil {
				return fmt.Errorf("failed to encrypt token: %w", err)
			}
			if _, err := d.db.ExecContext(ctx,
				`INSERT OR REPLACE INTO participant_tokens (chat_id, user_id, token) VALUES (?, ?, ?)`,
				chat.ChatID, p.UserID, encryptedToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
		}
	}

	return nil
}

func (d *Database) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	query := `
		SELECT chat_id, chat_type, group_name, encryption_key, created_at
		FROM chats
		WHERE chat_id = ?
	`

	chat := &models.Chat{}
	err := d.db.QueryRowContext(ctx, query, chatID).Scan(
		&chat.ChatID,
		&chat.ChatType,
		&chat.GroupName,
		&chat.EncryptionKey,
		&chat.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	participants, err := d.getParticipants(ctx, chatID)
	if err != nil {
		return nil, err
	}
	chat.Participants = participants

	return chat, nil
}

func (d *Database) getParticipants(ctx context.Context, chatID string) ([]models.Participant, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, display_name FROM chat_participants WHERE chat_id = ? ORDER BY user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.UserID, &p.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}

	for i := range participants {
		tokens, err := d.getParticipantTokens(ctx, chatID, participants[i].UserID)
		if err != nil {
			return nil, err
		}
		participants[i].Tokens = tokens
	}

	return participants, nil
}

func (d *Database) getParticipantTokens(ctx context.Context, chatID, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT token FROM participant_tokens WHERE chat_id = ? AND user_id = ? ORDER BY token`, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var encryptedToken string
		if err := rows.Scan(&encryptedToken); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		token, err := d.encryptor.Decrypt(encryptedToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}

	return tokens, nil
}

// RemoveParticipantToken deletes an invalid token from whichever participant
// of the chat holds it and returns that participant's user ID. A token that is
// not present (already cleaned up) returns an empty ID and no error.
func (d *Database) RemoveParticipantToken(ctx context.Context, chatID, token string) (string, error) {
	encryptedToken, err := d.encryptor.EncryptForLookup(token)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt token: %w", err)
	}

	var userID string
	err = d.db.QueryRowContext(ctx,
		`SELECT user_id FROM participant_tokens WHERE chat_id = ? AND token = ?`,
		chatID, encryptedToken).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up token: %w", err)
	}

	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM participant_tokens WHERE chat_id = ? AND user_id = ? AND token = ?`,
		chatID, userID, encryptedToken); err != nil {
		return "", fmt.Errorf("failed to remove token: %w", err)
	}

	return userID, nil
}

// Retry queue operations. The retry queue is exclusively owned by this
// service; items are single-row writes and never updated cross-item.

func (d *Database) SaveRetry(ctx context.Context, item *models.RetryItem) error {
	recipientIDs, failedTokens, err := marshalRetryFields(item.RecipientIDs, item.FailedTokens)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_retries (
			retry_id, message_id, chat_id, recipient_ids, failed_tokens,
			attempt_count, next_retry_at, last_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = d.db.ExecContext(ctx, query,
		item.RetryID, item.MessageID, item.ChatID, recipientIDs, failedTokens,
		item.AttemptCount, item.NextRetryAt, item.LastError, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save retry item: %w", err)
	}

	return nil
}

// GetDueRetries returns up to limit items whose next_retry_at is at or before
// now, oldest first. Items beyond the limit wait for the next sweep.
func (d *Database) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.RetryItem, error) {
	query := `
		SELECT retry_id, message_id, chat_id, recipient_ids, failed_tokens,
		       attempt_count, next_retry_at, last_error, created_at
		FROM notification_retries
		WHERE next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due retries: %w", err)
	}
	defer rows.Close()

	var items []*models.RetryItem
	for rows.Next() {
		item := &models.RetryItem{}
		var recipientIDs, failedTokens string
		if err := rows.Scan(
			&item.RetryID,
			&item.MessageID,
			&item.ChatID,
			&recipientIDs,
			&failedTokens,
			&item.AttemptCount,
			&item.NextRetryAt,
			&item.LastError,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan retry item: %w", err)
		}
		if err := unmarshalRetryFields(recipientIDs, failedTokens, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due retries: %w", err)
	}

	return items, nil
}

func (d *Database) UpdateRetry(ctx context.Context, item *models.RetryItem) error {
	_, failedTokens, err := marshalRetryFields(nil, item.FailedTokens)
	if err != nil {
		return err
	}

	query := `
		UPDATE notification_retries
		SET attempt_count = ?, failed_tokens = ?, next_retry_at = ?, last_error = ?
		WHERE retry_id = ?
	`

	result, err := d.db.ExecContext(ctx, query,
		item.AttemptCount, failedTokens, item.NextRetryAt, item.LastError, item.RetryID)
	if err != nil {
		return fmt.Errorf("failed to update retry item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no retry item found with ID: %s", item.RetryID)
	}

	return nil
}

func (d *Database) DeleteRetry(ctx context.Context, retryID string) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM notification_retries WHERE retry_id = ?`, retryID); err != nil {
		return fmt.Errorf("failed to delete retry item: %w", err)
	}
	return nil
}

// Failure archive operations.

func (d *Database) SaveFailure(ctx context.Context, record *models.FailureRecord) error {
	recipientIDs, failedTokens, err := marshalRetryFields(record.RecipientIDs, record.FailedTokens)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_failures (
			failure_id, message_id, chat_id, recipient_ids, failed_tokens,
			total_attempts, final_error, requires_manual_investigation, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = d.db.ExecContext(ctx, query,
		record.FailureID, record.MessageID, record.ChatID, recipientIDs, failedTokens,
		record.TotalAttempts, record.FinalError, record.RequiresManualInvestigation,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save failure record: %w", err)
	}

	return nil
}

// CountOverdueRetries returns the number of retry items whose next_retry_at is
// more than threshold in the past. Used by the retry monitor as a stuck-queue
// signal.
func (d *Database) CountOverdueRetries(ctx context.Context, now time.Time, threshold time.Duration) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_retries WHERE next_retry_at <= ?`,
		now.Add(-threshold)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count overdue retries: %w", err)
	}
	return count, nil
}

func (d *Database) CountFailures(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_failures`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failure records: %w", err)
	}
	return count, nil
}

func marshalRetryFields(recipientIDs []string, failedTokens map[string][]string) (string, string, error) {
	if recipientIDs == nil {
		recipientIDs = []string{}
	}
	if failedTokens == nil {
		failedTokens = map[string][]string{}
	}

	recipients, err := json.Marshal(recipientIDs)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal recipient IDs: %w", err)
	}
	tokens, err := json.Marshal(failedTokens)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal failed tokens: %w", err)
	}

	return string(recipients), string(tokens), nil
}

func unmarshalRetryFields(recipientIDs, failedTokens string, item *models.RetryItem) error {
	if err := json.Unmarshal([]byte(recipientIDs), &item.RecipientIDs); err != nil {
		return fmt.Errorf("failed to unmarshal recipient IDs: %w", err)
	}
	if err := json.Unmarshal([]byte(failedTokens), &item.FailedTokens); err != nil {
		return fmt.Errorf("failed to unmarshal failed tokens: %w", err)
	}
	return nil
}
