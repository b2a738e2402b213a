// Package clover is the HTTP gateway to the Clover REST API.
package clover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL    string
	MerchantID string
	APIToken   string
	// LocationID overrides the merchant name shown as the POS order title.
	LocationID string
	Timeout    time.Duration
}

type Client struct {
	baseURL    string
	merchantID string
	token      string
	location   string
	http       *http.Client

	mu      sync.Mutex
	tenders map[string]string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		merchantID: cfg.MerchantID,
		token:      cfg.APIToken,
		location:   cfg.LocationID,
		http:       &http.Client{Timeout: timeout},
		tenders:    make(map[string]string),
	}
}

// Call performs one request. A 404 on a /v3/ path is retried once against
// the /v2/ equivalent. 204 leaves out untouched; any other non-2xx status
// comes back as *APIError.
func (c *Client) Call(ctx context.Context, method, path string, body, out interface{}) error {
	code, payload, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}

	if code == http.StatusNotFound && strings.HasPrefix(path, "/v3/") {
		path = "/v2/" + strings.TrimPrefix(path, "/v3/")
		code, payload, err = c.do(ctx, method, path, body)
		if err != nil {
			return err
		}
	}

	if code == http.StatusNoContent {
		return nil
	}
	if code < 200 || code >= 300 {
		return &APIError{Status: code, Body: string(payload), Method: method, Path: path}
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("clover %s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("clover %s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("clover %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("clover %s %s: read body: %w", method, path, err)
	}
	return resp.StatusCode, payload, nil
}

func (c *Client) merchantPath(format string, args ...interface{}) string {
	return "/v3/merchants/" + c.merchantID + fmt.Sprintf(format, args...)
}
