package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"machinery/internal/controller"
)

// APIError is a non-success reply from the controller API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to the controller HTTP API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Sensors lists every provisioned sensor with its connection state
func (c *Client) Sensors(ctx context.Context) ([]controller.SensorStatus, error) {
	var body struct {
		Sensors []controller.SensorStatus `json:"sensors"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sensors", nil, &body); err != nil {
		return nil, err
	}
	return body.Sensors, nil
}

// SendCommand relays one command and waits for its outcome. A timed out
// command is returned with TimedOut set rather than as an error.
func (c *Client) SendCommand(ctx context.Context, sensorID, command string) (*controller.CommandResponse, error) {
	req := controller.CommandRequest{Command: command}
	var result controller.CommandResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/sensors/"+url.PathEscape(sensorID)+"/command", req, &result)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGatewayTimeout && result.TimedOut {
		return &result, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusGatewayTimeout {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		return &APIError{StatusCode: resp.StatusCode, Message: "command timed out"}
	}

	var failure struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil || failure.Error == "" {
		failure.Error = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: failure.Error}
}
