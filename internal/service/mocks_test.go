package service

import (
	"context"
	"time"

	"chatpush/internal/models"
	"chatpush/pkg/push"

	"github.com/stretchr/testify/mock"
)

// Mock database covering both the dispatcher and retry sweeper slices
type mockDatabase struct {
	mock.Mock
}

func (m *mockDatabase) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *mockDatabase) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *mockDatabase) MarkMessageDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error {
	args := m.Called(ctx, messageID, deliveredAt)
	return args.Error(0)
}

func (m *mockDatabase) RemoveParticipantToken(ctx context.Context, chatID, token string) (string, error) {
	args := m.Called(ctx, chatID, token)
	return args.String(0), args.Error(1)
}

func (m *mockDatabase) SaveRetry(ctx context.Context, item *models.RetryItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *mockDatabase) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.RetryItem, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.RetryItem), args.Error(1)
}

func (m *mockDatabase) UpdateRetry(ctx context.Context, item *models.RetryItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *mockDatabase) DeleteRetry(ctx context.Context, retryID string) error {
	args := m.Called(ctx, retryID)
	return args.Error(0)
}

func (m *mockDatabase) SaveFailure(ctx context.Context, record *models.FailureRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockDatabase) CountOverdueRetries(ctx context.Context, now time.Time, threshold time.Duration) (int, error) {
	args := m.Called(ctx, now, threshold)
	return args.Int(0), args.Error(1)
}

func (m *mockDatabase) CountFailures(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// Mock push gateway client
type mockPushClient struct {
	mock.Mock
}

func (m *mockPushClient) Send(ctx context.Context, token string, payload *push.Payload) error {
	args := m.Called(ctx, token, payload)
	return args.Error(0)
}

// Mock retry store for the dispatcher tests
type mockRetryStore struct {
	mock.Mock
}

func (m *mockRetryStore) StoreFailedNotification(ctx context.Context, messageID, chatID string, recipientIDs []string, failedTokens map[string][]string, cause string) error {
	args := m.Called(ctx, messageID, chatID, recipientIDs, failedTokens, cause)
	return args.Error(0)
}

// Mock retry processor for the scheduler tests
type mockRetryProcessor struct {
	mock.Mock
}

func (m *mockRetryProcessor) ProcessRetries(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
