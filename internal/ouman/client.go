package ouman

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vaizki/ouman2mqtt/internal/httpkit"
)

// maxBodyBytes caps how much of a response is read. A full answer for
// every known parameter is well under a kilobyte.
const maxBodyBytes = 64 << 10

// Client polls one EH-800 controller.
type Client struct {
	baseURL    string
	requestURL string
	name       string
	params     []Param
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout bounds each poll. Ignored when [WithHTTPClient] is used.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the default httpkit client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithParams replaces [DefaultParams].
func WithParams(params []Param) Option {
	return func(c *Client) { c.params = params }
}

// NewClient creates a client for the controller web interface at
// baseURL, e.g. "http://192.168.1.50". name is the device name shown in
// Home Assistant.
func NewClient(baseURL, name string, logger *slog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse device url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("device url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("device url %q has no host", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL: baseURL,
		name:    name,
		params:  DefaultParams,
		timeout: httpkit.DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpkit.NewClient(
			httpkit.WithTimeout(c.timeout),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		)
	}
	c.requestURL = RequestURL(baseURL, c.params)
	c.logger.Info("device request url", "url", c.requestURL)
	return c, nil
}

// RequestURL builds "<base>/request?<code>;<code>;..." for params.
func RequestURL(baseURL string, params []Param) string {
	codes := make([]string, len(params))
	for i, p := range params {
		codes[i] = p.Code
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + "request?" + strings.Join(codes, ";")
}

// URL returns the controller base URL.
func (c *Client) URL() string { return c.baseURL }

// Name returns the device name.
func (c *Client) Name() string { return c.name }

// Params returns the polled parameter set.
func (c *Client) Params() []Param { return c.params }

// Poll fetches every parameter once. A non-200 answer or a transport
// failure is an error; entries that fail to decode are logged and
// left out. The result may be empty.
func (c *Client) Poll(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll device: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 256)
		return nil, fmt.Errorf("device returned status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read device response: %w", err)
	}

	values, err := Decode(c.params, string(body))
	if err != nil {
		c.logger.Warn("skipped undecodable device values", "error", err)
	}
	c.logger.Debug("device values", "values", values)
	return values, nil
}
