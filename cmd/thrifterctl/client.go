package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrAPINotRunning indicates the API refused the connection.
var ErrAPINotRunning = errors.New("thrifter API is not running (connection refused)")

var defaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    defaultHTTPClient,
	}
}

func (c *apiClient) getJSON(path string, dest any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return dialError(err)
	}
	return decodeResponse(resp, dest)
}

func (c *apiClient) postJSON(path string, body, dest any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return dialError(err)
	}
	return decodeResponse(resp, dest)
}

// decodeResponse surfaces the API's {"error": ...} body on non-200 replies.
func decodeResponse(resp *http.Response, dest any) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("api returned status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

func dialError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ErrAPINotRunning
	}
	return fmt.Errorf("request failed: %w", err)
}
