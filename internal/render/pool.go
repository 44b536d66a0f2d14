// Package render is the phase-two fallback extractor: it loads a published
// calendar page in headless Chromium and harvests the calendar data from the
// Outlook service responses the page fetches while rendering. Used only for
// sources whose ICS feed is missing or broken.
package render

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/stefi19/roomsched/internal/logging"
)

const (
	// networkQuiet is how long the page must go without calendar-service
	// traffic before we consider it settled.
	networkQuiet = 1500 * time.Millisecond

	// settleTimeout caps the network-quiet wait after navigation.
	settleTimeout = 20 * time.Second

	// pageTimeout is the hard watchdog for one page load end to end.
	pageTimeout = 60 * time.Second
)

// Pool runs page captures against a shared headless browser process, at most
// `size` pages in flight at once. Each capture gets a fresh tab.
type Pool struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	sem         chan struct{}
	log         zerolog.Logger

	closeOnce sync.Once
}

// NewPool starts the browser allocator. size <= 0 defaults to 4.
func NewPool(ctx context.Context, size int) (*Pool, error) {
	if size <= 0 {
		size = 4
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	return &Pool{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		sem:         make(chan struct{}, size),
		log:         logging.Component("render"),
	}, nil
}

// Close tears the browser down. Safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.allocCancel()
	})
}

// Extract loads the published calendar page at url and returns the raw
// calendar items observed in the page's Outlook service responses. The call
// blocks while the pool is saturated.
func (p *Pool) Extract(ctx context.Context, url string) ([]RawItem, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.sem }()

	tabCtx, tabCancel := chromedp.NewContext(p.allocCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, pageTimeout)
	defer cancel()

	// Stop early if the caller's context dies; the tab context does not
	// inherit from it.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		mu       sync.Mutex
		bodies   [][]byte
		requests = make(map[network.RequestID]struct{})
		activity = make(chan struct{}, 1)
	)
	ping := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if !isCalendarService(e.Response.URL) {
				return
			}
			mu.Lock()
			requests[e.RequestID] = struct{}{}
			mu.Unlock()
			ping()
		case *network.EventLoadingFinished:
			mu.Lock()
			_, tracked := requests[e.RequestID]
			mu.Unlock()
			if !tracked {
				return
			}
			reqID := e.RequestID
			// Body fetch needs an executor; run it off the event goroutine.
			go func() {
				var body []byte
				err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
					var err error
					body, err = network.GetResponseBody(reqID).Do(c)
					return err
				}))
				if err == nil && len(body) > 0 {
					mu.Lock()
					bodies = append(bodies, body)
					mu.Unlock()
				}
				ping()
			}()
		}
	})

	start := time.Now()
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(c context.Context) error {
			return waitQuiet(c, activity)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", redactURL(url), err)
	}

	mu.Lock()
	captured := make([][]byte, len(bodies))
	copy(captured, bodies)
	mu.Unlock()

	items := decodeAll(captured)
	p.log.Debug().Str("url", redactURL(url)).Int("responses", len(captured)).
		Int("items", len(items)).Dur("took", time.Since(start)).Msg("page extracted")
	return items, nil
}

// waitQuiet returns once no calendar-service traffic has been seen for
// networkQuiet, or when settleTimeout elapses.
func waitQuiet(ctx context.Context, activity <-chan struct{}) error {
	deadline := time.NewTimer(settleTimeout)
	defer deadline.Stop()
	quiet := time.NewTimer(networkQuiet)
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-quiet.C:
			return nil
		case <-activity:
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(networkQuiet)
		}
	}
}

// isCalendarService matches the Outlook calendar service endpoints the
// published page calls while rendering.
func isCalendarService(url string) bool {
	if !strings.Contains(url, "service.svc") {
		return false
	}
	return strings.Contains(url, "GetItem") ||
		strings.Contains(url, "GetItems") ||
		strings.Contains(url, "PublishedCalendar")
}

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
