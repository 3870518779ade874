package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/repscore/internal/gate"
	"github.com/mbd888/repscore/internal/retry"
)

// Config holds the configuration for connecting to the reputation API.
type Config struct {
	APIURL        string // Base URL, e.g. "http://localhost:8080"
	CallerAddress string // Optional; sent as the caller header
}

// Client is a read-only HTTP client for the reputation API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	policy     retry.Policy
}

// NewClient creates a new client for the reputation API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		policy: retry.Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// get issues a GET and returns the response body. Transport failures and
// 5xx responses are retried; 4xx responses are not.
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body json.RawMessage
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		b, err := c.do(ctx, u.String())
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func (c *Client) do(ctx context.Context, rawURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if c.cfg.CallerAddress != "" {
		req.Header.Set(gate.CallerHeader, c.cfg.CallerAddress)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			err = fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		} else {
			err = fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	return json.RawMessage(respBody), nil
}

// GetProfile returns the reputation profile for an address.
func (c *Client) GetProfile(ctx context.Context, address string) (json.RawMessage, error) {
	return c.get(ctx, "/v1/users/"+url.PathEscape(address), nil)
}

// GetRisk runs a risk assessment. at == 0 lets the server use its clock.
func (c *Client) GetRisk(ctx context.Context, address string, at uint64) (json.RawMessage, error) {
	var q url.Values
	if at > 0 {
		q = url.Values{"at": {strconv.FormatUint(at, 10)}}
	}
	return c.get(ctx, "/v1/users/"+url.PathEscape(address)+"/risk", q)
}

// GetActivity returns one activity record by id.
func (c *Client) GetActivity(ctx context.Context, address string, id uint64) (json.RawMessage, error) {
	path := "/v1/users/" + url.PathEscape(address) + "/activities/" + strconv.FormatUint(id, 10)
	return c.get(ctx, path, nil)
}

// ListActivities returns a user's most recent activities, newest first.
func (c *Client) ListActivities(ctx context.Context, address string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.get(ctx, "/v1/users/"+url.PathEscape(address)+"/activities", q)
}

// GetStats returns service-wide counters.
func (c *Client) GetStats(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/v1/stats", nil)
}
