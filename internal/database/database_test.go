package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatpush/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDatabase(t *testing.T) *Database {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func seedMessage(t *testing.T, db *Database, messageID string) *models.Message {
	t.Helper()

	msg := &models.Message{
		MessageID:   messageID,
		ChatID:      "chat-1",
		SenderID:    "alice",
		SenderName:  "Alice",
		Content:     "hello",
		MessageType: models.MessageTypeText,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.SaveMessage(context.Background(), msg))
	return msg
}

func TestMessageRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	mediaURL := "https://cdn.example.com/img/1.jpg"
	msg := &models.Message{
		MessageID:   "msg-1",
		ChatID:      "chat-1",
		SenderID:    "alice",
		SenderName:  "Alice",
		Content:     "hello",
		MessageType: models.MessageTypeImage,
		MediaURL:    &mediaURL,
		CreatedAt:   time.Now().UTC(),
	}

	require.NoError(t, db.SaveMessage(ctx, msg))

	got, err := db.GetMessage(ctx, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "msg-1", got.MessageID)
	assert.Equal(t, "chat-1", got.ChatID)
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, models.MessageTypeImage, got.MessageType)
	require.NotNil(t, got.MediaURL)
	assert.Equal(t, mediaURL, *got.MediaURL)
	assert.False(t, got.IsDelivered)
	assert.Nil(t, got.DeliveredAt)
}

func TestGetMessage_NotFound(t *testing.T) {
	db := setupTestDatabase(t)

	got, err := db.GetMessage(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkMessageDelivered(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	seedMessage(t, db, "msg-1")

	deliveredAt := time.Now().UTC()
	require.NoError(t, db.MarkMessageDelivered(ctx, "msg-1", deliveredAt))

	got, err := db.GetMessage(ctx, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsDelivered)
	require.NotNil(t, got.DeliveredAt)
	assert.WithinDuration(t, deliveredAt, *got.DeliveredAt, time.Second)
}

func TestMarkMessageDelivered_NotFound(t *testing.T) {
	db := setupTestDatabase(t)

	err := db.MarkMessageDelivered(context.Background(), "missing", time.Now())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no message found")
}

func TestChatRoundTrip(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	chat := &models.Chat{
		ChatID:        "chat-1",
		ChatType:      models.ChatTypeGroup,
		GroupName:     "Weekend plans",
		EncryptionKey: "key-material",
		Participants: []models.Participant{
			{UserID: "alice", DisplayName: "Alice", Tokens: []string{"tok-a1"}},
			{UserID: "bob", DisplayName: "Bob", Tokens: []string{"tok-b1", "tok-b2"}},
			{UserID: "carol", DisplayName: "Carol"},
		},
	}

	require.NoError(t, db.SaveChat(ctx, chat))

	got, err := db.GetChat(ctx, "chat-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ChatTypeGroup, got.ChatType)
	assert.Equal(t, "Weekend plans", got.GroupName)
	assert.Equal(t, "key-material", got.EncryptionKey)

	require.Len(t, got.Participants, 3)
	assert.Equal(t, "alice", got.Participants[0].UserID)
	assert.Equal(t, []string{"tok-a1"}, got.Participants[0].Tokens)
	assert.Equal(t, []string{"tok-b1", "tok-b2"}, got.Participants[1].Tokens)
	assert.Empty(t, got.Participants[2].Tokens)
}

func TestGetChat_NotFound(t *testing.T) {
	db := setupTestDatabase(t)

	got, err := db.GetChat(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRemoveParticipantToken(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	chat := &models.Chat{
		ChatID: "chat-1",
		Participants: []models.Participant{
			{UserID: "bob", Tokens: []string{"tok-b1", "tok-b2"}},
		},
	}
	require.NoError(t, db.SaveChat(ctx, chat))

	userID, err := db.RemoveParticipantToken(ctx, "chat-1", "tok-b1")
	require.NoError(t, err)
	assert.Equal(t, "bob", userID)

	got, err := db.GetChat(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, got.Participants, 1)
	assert.Equal(t, []string{"tok-b2"}, got.Participants[0].Tokens)

	// Removing a token that is already gone is a no-op
	userID, err = db.RemoveParticipantToken(ctx, "chat-1", "tok-b1")
	require.NoError(t, err)
	assert.Empty(t, userID)
}

func TestRetryLifecycle(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	item := &models.RetryItem{
		RetryID:      "retry-1",
		MessageID:    "msg-1",
		ChatID:       "chat-1",
		RecipientIDs: []string{"bob", "carol"},
		FailedTokens: map[string][]string{"bob": {"tok-b1"}, "carol": {"tok-c1"}},
		AttemptCount: 1,
		NextRetryAt:  time.Now().UTC().Add(-time.Minute),
		LastError:    "Initial send partially failed",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, db.SaveRetry(ctx, item))

	due, err := db.GetDueRetries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "retry-1", due[0].RetryID)
	assert.Equal(t, []string{"bob", "carol"}, due[0].RecipientIDs)
	assert.Equal(t, map[string][]string{"bob": {"tok-b1"}, "carol": {"tok-c1"}}, due[0].FailedTokens)
	assert.Equal(t, 1, due[0].AttemptCount)
	assert.Equal(t, "Initial send partially failed", due[0].LastError)

	item.AttemptCount = 2
	item.FailedTokens = map[string][]string{"carol": {"tok-c1"}}
	item.NextRetryAt = time.Now().UTC().Add(5 * time.Minute)
	item.LastError = "Retry attempt 1 partially failed"
	require.NoError(t, db.UpdateRetry(ctx, item))

	// Rescheduled into the future, so no longer due
	due, err = db.GetDueRetries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = db.GetDueRetries(ctx, time.Now().UTC().Add(6*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].AttemptCount)
	assert.Equal(t, map[string][]string{"carol": {"tok-c1"}}, due[0].FailedTokens)
	assert.Equal(t, "Retry attempt 1 partially failed", due[0].LastError)

	require.NoError(t, db.DeleteRetry(ctx, "retry-1"))
	due, err = db.GetDueRetries(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestUpdateRetry_NotFound(t *testing.T) {
	db := setupTestDatabase(t)

	item := &models.RetryItem{RetryID: "missing", NextRetryAt: time.Now()}
	err := db.UpdateRetry(context.Background(), item)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no retry item found")
}

func TestGetDueRetries_OrderAndLimit(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, id := range []string{"retry-c", "retry-a", "retry-b"} {
		offsets := []time.Duration{-1 * time.Minute, -3 * time.Minute, -2 * time.Minute}
		item := &models.RetryItem{
			RetryID:      id,
			MessageID:    "msg-1",
			ChatID:       "chat-1",
			RecipientIDs: []string{"bob"},
			FailedTokens: map[string][]string{"bob": {"tok"}},
			AttemptCount: 1,
			NextRetryAt:  now.Add(offsets[i]),
			CreatedAt:    now,
		}
		require.NoError(t, db.SaveRetry(ctx, item))
	}

	due, err := db.GetDueRetries(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)

	// Oldest first, third item waits for the next sweep
	assert.Equal(t, "retry-a", due[0].RetryID)
	assert.Equal(t, "retry-b", due[1].RetryID)
}

func TestSaveFailureAndCounts(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	count, err := db.CountFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	record := &models.FailureRecord{
		FailureID:                   "failure-1",
		MessageID:                   "msg-1",
		ChatID:                      "chat-1",
		RecipientIDs:                []string{"bob"},
		FailedTokens:                map[string][]string{"bob": {"tok-b1"}},
		TotalAttempts:               3,
		FinalError:                  "Retry attempt 2 partially failed",
		RequiresManualInvestigation: true,
		CreatedAt:                   time.Now().UTC(),
	}
	require.NoError(t, db.SaveFailure(ctx, record))

	count, err = db.CountFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCountOverdueRetries(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	now := time.Now().UTC()
	items := map[string]time.Duration{
		"retry-fresh":   -time.Minute,      // due but within threshold
		"retry-overdue": -20 * time.Minute, // past the threshold
	}
	for id, offset := range items {
		require.NoError(t, db.SaveRetry(ctx, &models.RetryItem{
			RetryID:      id,
			MessageID:    "msg-1",
			ChatID:       "chat-1",
			RecipientIDs: []string{"bob"},
			FailedTokens: map[string][]string{"bob": {"tok"}},
			AttemptCount: 1,
			NextRetryAt:  now.Add(offset),
			CreatedAt:    now,
		}))
	}

	count, err := db.CountOverdueRetries(ctx, now, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("../../../etc/passwd.db")
	assert.Error(t, err)
}

func TestNew_SchemaApplied(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "schema.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	// Reopening against the same file must be idempotent
	db2, err := New(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
