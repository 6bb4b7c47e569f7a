// Package transport resolves directions requests against the Directions API and
// carries requests and responses between widget and fetcher.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/passbi/localtransport/internal/cache"
	"github.com/passbi/localtransport/internal/models"
)

// ClientConfig holds the Directions API settings
type ClientConfig struct {
	BaseURL      string
	Endpoint     string
	APIKey       string
	TrafficModel string
	Language     string
	Units        string
	Timeout      time.Duration
}

// ResponseCache stores raw response bodies between fetchers
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	AcquireLock(ctx context.Context, key string) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	WaitForResult(ctx context.Context, key string) ([]byte, bool, error)
}

// Client calls the Directions API
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	cache  ResponseCache
	logger *slog.Logger
}

// NewClient creates a client. responseCache may be nil.
func NewClient(cfg ClientConfig, responseCache ResponseCache, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  responseCache,
		logger: logger,
	}
}

// URL builds the request URL for req
func (c *Client) URL(req models.RequestContext) string {
	q := url.Values{}
	q.Set("mode", string(req.Mode))
	q.Set("origin", req.Origin)
	q.Set("destination", req.Destination)
	q.Set("key", c.cfg.APIKey)
	q.Set("traffic_model", c.cfg.TrafficModel)
	q.Set("departure_time", "now")
	q.Set("alternatives", "true")
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	if c.cfg.Units != "" {
		q.Set("units", c.cfg.Units)
	}
	return c.cfg.BaseURL + c.cfg.Endpoint + "?" + q.Encode()
}

// Fetch resolves req. Transport failures and non-200 replies return an error
// and no response; API-level errors come back as a response with their status.
func (c *Client) Fetch(ctx context.Context, req models.RequestContext) (*models.ApiResponse, error) {
	requestURL := c.URL(req)
	if c.cache == nil {
		return c.fetch(ctx, requestURL)
	}

	key := cache.ResponseKey(requestURL)
	logger := c.logger.With("channel", req.Channel, "request_id", req.RequestID)

	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		logger.Warn("cache read failed", "error", err)
	} else if ok {
		logger.Debug("cache hit", "key", key)
		return decode(data)
	}

	acquired, err := c.cache.AcquireLock(ctx, key)
	if err != nil {
		logger.Warn("cache lock failed", "error", err)
		return c.fetch(ctx, requestURL)
	}
	if !acquired {
		data, ok, err := c.cache.WaitForResult(ctx, key)
		if err == nil && ok {
			return decode(data)
		}
		logger.Debug("no cached result after waiting", "error", err)
		return c.fetch(ctx, requestURL)
	}
	defer func() {
		if err := c.cache.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn("cache unlock failed", "error", err)
		}
	}()

	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	resp, err := decode(body)
	if err != nil {
		return nil, err
	}
	if resp.Status == models.StatusOK {
		if err := c.cache.Set(ctx, key, body); err != nil {
			logger.Warn("cache write failed", "error", err)
		}
	}
	return resp, nil
}

func (c *Client) fetch(ctx context.Context, requestURL string) (*models.ApiResponse, error) {
	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	return decode(body)
}

func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directions request failed: http %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directions response: %w", err)
	}
	return body, nil
}

func decode(body []byte) (*models.ApiResponse, error) {
	var resp models.ApiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode directions response: %w", err)
	}
	return &resp, nil
}
