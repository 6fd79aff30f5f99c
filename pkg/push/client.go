package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// PushClient talks to the push gateway's REST API.
type PushClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(config ClientConfig) Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &PushClient{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Send delivers one notification to one token. Gateway-reported failures come
// back as *DeliveryError so callers can classify them; transport failures are
// returned as plain wrapped errors and treated as transient.
func (c *PushClient) Send(ctx context.Context, token string, payload *Payload) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}

	body, err := json.Marshal(sendRequest{Token: token, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages:send", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if resp.StatusCode == http.StatusOK {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusOK && result.Error == nil {
		return nil
	}

	if result.Error != nil {
		return &DeliveryError{Code: result.Error.Code, Message: result.Error.Message}
	}

	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}
