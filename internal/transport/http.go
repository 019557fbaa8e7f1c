package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	HeaderSubscriptionKey = "Ocp-Apim-Subscription-Key"
	contentTypeJSON       = "application/json; charset=utf-8"

	// StatusUnavailable is reported when no response was received.
	StatusUnavailable = http.StatusServiceUnavailable
)

type Response struct {
	StatusCode int
	Body       []byte
}

// Client POSTs JSON documents to the crash report backend.
type Client struct {
	http            *http.Client
	subscriptionKey string
}

func NewClient(subscriptionKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:            &http.Client{Timeout: timeout},
		subscriptionKey: subscriptionKey,
	}
}

// Post sends payload as JSON to url. When the request cannot be completed
// the returned status is StatusUnavailable alongside the error.
func (c *Client) Post(ctx context.Context, url string, payload any) (Response, error) {
	resp := Response{StatusCode: StatusUnavailable}
	if url == "" {
		return resp, fmt.Errorf("URL is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return resp, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return resp, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set(HeaderSubscriptionKey, c.subscriptionKey)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	resp.StatusCode = httpResp.StatusCode
	resp.Body, err = io.ReadAll(httpResp.Body)
	if err != nil {
		return resp, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, nil
}
