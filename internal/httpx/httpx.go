package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketdata/internal/provider"
)

// maxErrorBody caps how much of a failed response is kept for messages.
const maxErrorBody = 512

// Client is a small wrapper around http.Client with sane defaults.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: "marketdata/1.0"}
}

func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.HTTP.Do(req.WithContext(ctx))
}

// GetJSON fetches rawURL with query and decodes the body into out. Every
// failure comes back classified for the provider named name.
func (c *Client) GetJSON(ctx context.Context, name, rawURL string, query url.Values, out any) error {
	return c.GetJSONChecked(ctx, name, rawURL, query, out, CheckResponse)
}

// GetJSONChecked is GetJSON with a caller-supplied status check, for
// upstreams that signal conditions through unusual status codes.
func (c *Client) GetJSONChecked(ctx context.Context, name, rawURL string, query url.Values, out any,
	check func(name string, resp *http.Response) error,
) error {
	u := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		u = rawURL + sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return provider.Failed(name, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return ctxErr
		}
		return provider.Transient(name, err, "request failed")
	}
	defer resp.Body.Close()
	if err := check(name, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Failed(name, "decode response: %v", err)
	}
	return nil
}

// CheckResponse maps a non-2xx status onto the provider error taxonomy:
// 429 is a rate limit honoring Retry-After, 5xx is transient, 404 is not
// found and any other status is a definitive failure.
func CheckResponse(name string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	snippet := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.RateLimited(name, ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	case resp.StatusCode >= 500:
		return provider.Transient(name, fmt.Errorf("status %d: %s", resp.StatusCode, snippet), "upstream error")
	case resp.StatusCode == http.StatusNotFound:
		subject := "resource"
		if resp.Request != nil && resp.Request.URL != nil {
			subject = resp.Request.URL.Path
		}
		return provider.NotFound(name, subject)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return provider.Failed(name, "unauthorized (status %d)", resp.StatusCode)
	default:
		return provider.Failed(name, "unexpected status %d: %s", resp.StatusCode, snippet)
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns 0 when absent or unparsable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
