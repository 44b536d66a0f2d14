// Package ics fetches and parses the published iCalendar feeds, phase one of
// an extraction run. A feed that fetches and parses cleanly but contains zero
// events is a success; only transport failures and non-ICS payloads push a
// source to the browser renderer.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stefi19/roomsched/internal/logging"
)

// ErrNotICS marks a payload that fetched fine but is not an iCalendar
// document (the publisher often serves an HTML error page with status 200).
var ErrNotICS = errors.New("response body is not an iCalendar document")

// NetworkError wraps transport-level failures (DNS, dial, timeout) after all
// retries are spent.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("ics fetch %s: %v", redactURL(e.URL), e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response after all retries.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ics fetch %s: unexpected status %d", redactURL(e.URL), e.Code)
}

const (
	fetchTimeout = 30 * time.Second
	maxBodySize  = 16 << 20
)

// retryDelays gives three attempts total: immediate, +1s, +3s.
var retryDelays = []time.Duration{time.Second, 3 * time.Second}

// Client fetches ICS feeds with a bounded timeout and a short retry ladder.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient returns a ready Client.
func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: fetchTimeout},
		log:  logging.Component("ics"),
	}
}

// Fetch downloads the feed at url and validates that the body looks like an
// iCalendar document. Retries transient failures (network errors, 5xx, 429);
// 4xx other than 429 fails immediately.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("ics: empty url")
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := c.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(err) || attempt >= len(retryDelays) {
			break
		}
		c.log.Warn().Err(err).Str("url", redactURL(url)).Int("attempt", attempt+1).
			Msg("fetch failed, retrying")
		select {
		case <-ctx.Done():
			return nil, &NetworkError{URL: url, Err: ctx.Err()}
		case <-time.After(retryDelays[attempt]):
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}

	if !looksLikeICS(body) {
		return nil, fmt.Errorf("ics fetch %s: %w", redactURL(url), ErrNotICS)
	}
	return body, nil
}

func retryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return false
}

// looksLikeICS checks for the BEGIN:VCALENDAR header within the first bytes,
// tolerating a UTF-8 BOM and leading whitespace.
func looksLikeICS(body []byte) bool {
	head := bytes.TrimLeft(bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF}), " \t\r\n")
	return bytes.HasPrefix(head, []byte("BEGIN:VCALENDAR"))
}

// redactURL trims a feed URL to its host for logging. Published calendar URLs
// embed an unguessable token in the path.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return u[:i+3] + rest[:j] + "/..."
	}
	return u
}
