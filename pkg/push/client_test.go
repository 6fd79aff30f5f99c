package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendSuccess(t *testing.T) {
	var gotReq map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages:send", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"messageId": "msg-1"})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})

	payload := &Payload{
		Notification: &Notification{Title: "Alice", Body: "hello"},
		Data:         map[string]string{"chatId": "chat-1"},
		Priority:     "high",
	}

	err := client.Send(context.Background(), "token-1", payload)
	require.NoError(t, err)

	assert.Equal(t, "token-1", gotReq["token"])
	assert.Equal(t, "high", gotReq["priority"])
}

func TestClient_SendBare(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "token-1", req["token"])
		assert.NotContains(t, req, "notification")

		_ = json.NewEncoder(w).Encode(map[string]string{"messageId": "msg-2"})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})

	err := client.Send(context.Background(), "token-1", nil)
	assert.NoError(t, err)
}

func TestClient_SendInvalidToken(t *testing.T) {
	for _, code := range []ErrorCode{ErrorCodeInvalidToken, ErrorCodeNotRegistered} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"code": string(code), "message": "endpoint gone"},
			})
		}))

		client := NewClient(ClientConfig{BaseURL: server.URL})
		err := client.Send(context.Background(), "stale-token", nil)

		require.Error(t, err)
		assert.True(t, IsInvalidToken(err))

		var deliveryErr *DeliveryError
		require.True(t, errors.As(err, &deliveryErr))
		assert.Equal(t, code, deliveryErr.Code)

		server.Close()
	}
}

func TestClient_SendTransientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": string(ErrorCodeUnavailable), "message": "try later"},
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	err := client.Send(context.Background(), "token-1", nil)

	require.Error(t, err)
	assert.False(t, IsInvalidToken(err))
}

func TestClient_SendEmptyToken(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:0"})
	err := client.Send(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestClient_SendConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	err := client.Send(context.Background(), "token-1", nil)

	require.Error(t, err)
	assert.False(t, IsInvalidToken(err))
}

func TestIsInvalidToken_PlainError(t *testing.T) {
	assert.False(t, IsInvalidToken(errors.New("connection reset")))
	assert.False(t, IsInvalidToken(nil))
}
