// Package http fetches pages for the crawl engine and decides whether a
// fetched body needs a headless render.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenAudit/internal/errors"
	"github.com/PentesterFlow/OpenAudit/internal/model"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 5 * 1024 * 1024

const maxRedirects = 10

// Client is the HTTP client used for page fetches and link status checks.
type Client struct {
	client        *http.Client
	headers       map[string]string
	maxBody       int64
	statusTimeout time.Duration
	retrier       *errors.Retrier
	mu            sync.RWMutex
}

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	Timeout             time.Duration
	StatusTimeout       time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	MaxBodyBytes        int64
	UserAgent           string
	Headers             map[string]string
	SkipTLSVerify       bool
}

// DefaultClientConfig returns the defaults used by the crawl engine.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		StatusTimeout:       10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		UserAgent:           model.DefaultUserAgent,
	}
}

// DefaultHeaders returns the headers sent with every request.
func DefaultHeaders(userAgent string) map[string]string {
	if userAgent == "" {
		userAgent = model.DefaultUserAgent
	}
	return map[string]string{
		"User-Agent":                userAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.5",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Cache-Control":             "max-age=0",
	}
}

// NewClient creates a new HTTP client.
func NewClient(config ClientConfig) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.StatusTimeout <= 0 {
		config.StatusTimeout = 10 * time.Second
	}

	headers := DefaultHeaders(config.UserAgent)
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		headers:       headers,
		maxBody:       config.MaxBodyBytes,
		statusTimeout: config.StatusTimeout,
		retrier: errors.NewRetrier(errors.RetryConfig{
			MaxAttempts: len(statusMethods),
			Multiplier:  1,
			Retryable:   statusRetryable,
		}),
	}
}

// SetHeaders merges custom headers into every request.
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	for k, v := range headers {
		c.headers[k] = v
	}
	c.mu.Unlock()
}

// UserAgent returns the User-Agent header sent by the client.
func (c *Client) UserAgent() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers["User-Agent"]
}

// Response is a fetched page.
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	Duration    time.Duration
}

// IsHTML reports whether the response carries an HTML document.
func (r *Response) IsHTML() bool {
	return IsHTMLContentType(r.ContentType)
}

// IsHTMLContentType reports whether contentType names an HTML document.
func IsHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// Fetch performs a GET request. HTTP error statuses are returned as a normal
// response; only transport failures produce an error.
func (c *Client) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	start := time.Now()

	req, err := c.newRequest(ctx, http.MethodGet, targetURL)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, errors.NewNetworkError(targetURL, "body_read", err)
	}

	return &Response{
		URL:         targetURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
		Duration:    time.Since(start),
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, targetURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, errors.NewParseError(targetURL, "request_creation", err)
	}

	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()
	return req, nil
}

// StatusResult is the outcome of a link status check.
type StatusResult struct {
	StatusCode int // 0 when no response was received
	LatencyMS  int64
	Error      string
}

// OK reports whether the target answered below 400.
func (s StatusResult) OK() bool {
	return s.StatusCode > 0 && s.StatusCode < 400
}

// CheckStatus probes a link target with HEAD and falls back to GET when the
// server rejects HEAD or the request fails. Each attempt has its own
// timeout.
func (c *Client) CheckStatus(ctx context.Context, targetURL string) StatusResult {
	start := time.Now()

	var status int
	result := c.retrier.Do(ctx, "status_check", targetURL, func(ctx context.Context, attempt int) error {
		method := statusMethods[min(attempt, len(statusMethods))-1]

		code, err := c.probe(ctx, method, targetURL)
		status = code
		if err != nil {
			return err
		}
		if method == http.MethodHead && headRejected(code) {
			return errors.NewHTTPStatusError(errors.ClientError, targetURL, code)
		}
		return nil
	})

	out := StatusResult{
		StatusCode: status,
		LatencyMS:  time.Since(start).Milliseconds(),
	}
	if status == 0 && result.LastError != nil {
		out.Error = errors.Truncate(result.LastError.Error(), 500)
	}
	return out
}

func (c *Client) probe(ctx context.Context, method, targetURL string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, targetURL)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, errors.Categorize(err, targetURL)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
	return resp.StatusCode, nil
}

var statusMethods = []string{http.MethodHead, http.MethodGet}

// headRejected reports statuses that servers commonly return for HEAD while
// serving GET normally.
func headRejected(code int) bool {
	return code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented || code == http.StatusForbidden
}

// statusRetryable lets any failure of the HEAD probe fall through to GET.
func statusRetryable(err error) bool {
	return errors.KindOf(err) != errors.Cancelled
}

// SyntheticPage returns the title recorded for a non-HTML response: the
// last path segment of its final URL.
func SyntheticPage(resp *Response) (title string, size int) {
	title = resp.FinalURL
	if u, err := url.Parse(resp.FinalURL); err == nil {
		if name := path.Base(strings.TrimSuffix(u.Path, "/")); name != "." && name != "/" && name != "" {
			title = name
		}
	}
	return title, len(resp.Body)
}

// Close closes idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

func (r *Response) String() string {
	return fmt.Sprintf("%d %s (%s, %d bytes)", r.StatusCode, r.FinalURL, r.ContentType, len(r.Body))
}
