// Package databricks implements the provisioning executors for Databricks
// resources over the workspace REST API: clusters (API 2.0), jobs
// (API 2.1), and the Unity Catalog hierarchy (API 2.1).
package databricks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a structured error response from the workspace API.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("databricks API error %s (HTTP %d): %s", e.ErrorCode, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("databricks API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err indicates the resource no longer exists,
// which rollback treats as success.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound ||
		apiErr.ErrorCode == "RESOURCE_DOES_NOT_EXIST" ||
		apiErr.ErrorCode == "CATALOG_DOES_NOT_EXIST" ||
		apiErr.ErrorCode == "SCHEMA_DOES_NOT_EXIST" ||
		apiErr.ErrorCode == "TABLE_DOES_NOT_EXIST"
}

// Client is a minimal workspace API client with bearer token auth.
type Client struct {
	host  string
	token string
	http  *http.Client
}

// NewClient validates the host URL and builds a client.
func NewClient(host, token string, timeout time.Duration) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("databricks host is required")
	}
	if token == "" {
		return nil, fmt.Errorf("databricks token is required")
	}
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid databricks host %q", host)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		host:  strings.TrimRight(host, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

// do issues one API call. A non-2xx response decodes into an APIError; a
// non-nil out decodes the success body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response from %s: %w", path, err)
		}
	}
	return nil
}
