package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

var pooledTransport = sync.OnceValue(func() http.RoundTripper {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
})

// SharedHTTPClient returns a client on the process-wide connection pool
// with its own overall timeout.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout, Transport: pooledTransport()}
}

// StatusError is a transient upstream response (429 or 5xx) that survived
// every retry.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// backoff is the retry policy for provider HTTP calls. Attempt n waits
// n²·Base plus up to 50% jitter, unless the server sent Retry-After.
type backoff struct {
	Attempts int
	Base     time.Duration
	MaxWait  time.Duration
}

var retries = backoff{Attempts: 4, Base: time.Second, MaxWait: 30 * time.Second}

func (b backoff) wait(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, b.MaxWait)
	}
	d := time.Duration(attempt*attempt) * b.Base
	return d + rand.N(d/2+1)
}

func transient(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// do sends the request built by build, retrying network failures and
// transient statuses. build runs once per attempt so bodies can be replayed.
// Non-transient responses, 4xx included, are returned to the caller as is.
func (b backoff) do(ctx context.Context, client *http.Client, build func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var last error
	var hint time.Duration
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			d := b.wait(attempt, hint)
			logger.Warn("retrying provider request", "attempt", attempt+1, "wait", d, "err", last)
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last, hint = err, 0
		case transient(resp.StatusCode):
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			last = &StatusError{Code: resp.StatusCode, Body: string(body)}
			hint = parseRetryAfter(resp.Header.Get("Retry-After"))
		default:
			return resp, nil
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", b.Attempts, last)
}

func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	return retries.do(ctx, client, build, logger)
}

// parseRetryAfter reads a delay-seconds Retry-After value. HTTP dates are
// ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// APIError is a non-2xx provider response that was not retried.
type APIError struct {
	Provider string
	Code     int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}

// postJSON posts in as JSON with header and decodes a 2xx body into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, in, out any, logger *slog.Logger) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", provider, err)
	}
	resp, err := doWithRetry(ctx, client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header = header.Clone()
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Provider: provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}
