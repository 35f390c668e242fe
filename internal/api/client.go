package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tciasync-desktop/internal/shared"

	"github.com/go-resty/resty/v2"
)

// Options tunes the transport. Zero values fall back to defaults.
type Options struct {
	Timeout       time.Duration
	RetryCount    int
	CachePrefix   string // GET endpoints under this prefix are cached
	CacheTTL      time.Duration
	CacheCapacity int
}

// Client represents an Orthanc REST API client
type Client struct {
	baseURL     string
	http        *resty.Client
	cache       *lruCache
	cachePrefix string
}

// NewClient creates a new Orthanc API client
func NewClient(baseURL, username, password string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}

	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		cachePrefix: strings.TrimPrefix(opts.CachePrefix, "/"),
	}
	if opts.CachePrefix != "" && opts.CacheCapacity > 0 {
		client.cache = newLRUCache(opts.CacheCapacity, opts.CacheTTL)
	}

	client.http = resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Only GETs are retried: a resent POST tcia/import would start a second job
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	if username != "" {
		client.http.SetBasicAuth(username, password)
	}

	return client
}

// BaseURL returns the server root without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request to the Orthanc API
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)

	if params != nil {
		req.SetQueryParams(params)
	}

	return req.Get(c.buildURL(endpoint))
}

// Post performs a POST request to the Orthanc API
func (c *Client) Post(ctx context.Context, endpoint string, payload interface{}) (*resty.Response, error) {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.buildURL(endpoint))
}

// GetJSON performs a GET and decodes a 2xx body into out. Responses under the
// cache prefix are served from the local cache while fresh.
func (c *Client) GetJSON(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	key := ""
	if c.cacheable(endpoint) {
		key = cacheKey(endpoint, params)
		if body, ok := c.cache.Get(key); ok {
			return decode(body, out, "GET", endpoint)
		}
	}

	resp, err := c.Get(ctx, endpoint, params)
	body, err := checkResponse(resp, err, "GET", endpoint)
	if err != nil {
		return err
	}

	if key != "" {
		c.cache.Put(key, body)
	}
	return decode(body, out, "GET", endpoint)
}

// PostJSON performs a POST and decodes a 2xx body into out, which may be nil.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	resp, err := c.Post(ctx, endpoint, payload)
	body, err := checkResponse(resp, err, "POST", endpoint)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(body, out, "POST", endpoint)
}

// ClearCache drops every locally cached response
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// CachedEntries returns the number of responses held in the local cache
func (c *Client) CachedEntries() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func (c *Client) cacheable(endpoint string) bool {
	return c.cache != nil && strings.HasPrefix(strings.TrimPrefix(endpoint, "/"), c.cachePrefix)
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

// SetTimeout allows customizing the timeout for specific operations
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http.SetTimeout(timeout)
}

func checkResponse(resp *resty.Response, err error, method, endpoint string) ([]byte, error) {
	if err != nil {
		return nil, &shared.TransportError{Method: method, Endpoint: endpoint, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &shared.TransportError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode(),
			Body:       truncate(resp.String(), 512),
		}
	}
	return resp.Body(), nil
}

func decode(body []byte, out interface{}, method, endpoint string) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &shared.TransportError{Method: method, Endpoint: endpoint, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func cacheKey(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	// Encode sorts by key
	return endpoint + "?" + values.Encode()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
