package push

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the gateway's delivery error classification.
type ErrorCode string

const (
	// Permanent recipient errors: the token will never be accepted again and
	// must be purged rather than retried.
	ErrorCodeInvalidToken  ErrorCode = "INVALID_TOKEN"
	ErrorCodeNotRegistered ErrorCode = "NOT_REGISTERED"

	// Transient errors: eligible for redelivery on a later sweep.
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrorCodeUnavailable ErrorCode = "UNAVAILABLE"
	ErrorCodeInternal    ErrorCode = "INTERNAL"
)

// DeliveryError is a typed per-token send failure reported by the gateway.
type DeliveryError struct {
	Code    ErrorCode
	Message string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push delivery failed (%s): %s", e.Code, e.Message)
}

// IsInvalidToken reports whether err marks the endpoint as permanently
// invalid.
func IsInvalidToken(err error) bool {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Code == ErrorCodeInvalidToken || deliveryErr.Code == ErrorCodeNotRegistered
	}
	return false
}

// Notification is the visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Payload is the full message handed to the gateway alongside a target token.
// A nil Notification with empty Data is a bare delivery probe, used on the
// retry path.
type Payload struct {
	Notification *Notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	ChannelID    string            `json:"channelId,omitempty"`
	Sound        string            `json:"sound,omitempty"`
}

type sendRequest struct {
	Token string `json:"token"`
	*Payload
}

type sendResponse struct {
	MessageID string `json:"messageId,omitempty"`
	Error     *struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	} `json:"error,omitempty"`
}

// ClientConfig configures the gateway HTTP client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client sends one notification to one delivery token.
type Client interface {
	Send(ctx context.Context, token string, payload *Payload) error
}
