package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pbroadmap/internal/config"
	"pbroadmap/internal/logger"
	"pbroadmap/internal/roadmap"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const defaultBrowserTimeout = 2 * time.Minute

// BrowserSource opens the roadmap page in headless Chrome, logs in and intercepts every response
// whose request URL matches the roadmap's initial endpoint.
type BrowserSource struct {
	cfg        config.BrowserConfig
	roadmapURL string
	email      string
	password   string
	matcher    roadmap.Matcher

	startOnce  sync.Once
	startErr   error
	browserCtx context.Context
	cancel     context.CancelFunc
	captures   chan Capture

	mu      sync.Mutex
	pending map[network.RequestID]*pendingRequest
}

type pendingRequest struct {
	url    string
	cookie string
}

func NewBrowserSource(cfg config.BrowserConfig, rm config.RoadmapConfig) (*BrowserSource, error) {
	matcher, err := roadmap.NewMatcher(rm.URL)
	if err != nil {
		return nil, err
	}
	return &BrowserSource{
		cfg:        cfg,
		roadmapURL: rm.URL,
		email:      rm.Email,
		password:   rm.Password,
		matcher:    matcher,
		captures:   make(chan Capture, 4),
		pending:    make(map[network.RequestID]*pendingRequest),
	}, nil
}

func (b *BrowserSource) timeout() time.Duration {
	if t := b.cfg.Timeout(); t > 0 {
		return t
	}
	return defaultBrowserTimeout
}

// Next starts the browser on first use and waits for the next matching response.
func (b *BrowserSource) Next(ctx context.Context) (Capture, error) {
	b.startOnce.Do(func() { b.startErr = b.start(ctx) })
	if b.startErr != nil {
		return Capture{}, b.startErr
	}
	waitCtx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()
	select {
	case c := <-b.captures:
		return c, nil
	case <-b.browserCtx.Done():
		return Capture{}, ErrExhausted
	case <-waitCtx.Done():
		return Capture{}, fmt.Errorf("waiting for roadmap initial response: %w", waitCtx.Err())
	}
}

func (b *BrowserSource) start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", b.cfg.Headless))
	if ua := strings.TrimSpace(b.cfg.UserAgent); ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debugf))
	b.browserCtx = browserCtx
	b.cancel = func() {
		browserCancel()
		allocCancel()
	}
	chromedp.ListenTarget(browserCtx, b.onEvent)

	// The first Run allocates the browser and must not carry a deadline, or the browser dies with it.
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		return fmt.Errorf("start headless browser: %w", err)
	}

	loginCtx, cancel := context.WithTimeout(browserCtx, b.timeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	sel := b.cfg.Selectors
	logger.Infof("opening roadmap %s", b.roadmapURL)
	err := chromedp.Run(loginCtx,
		chromedp.Navigate(b.roadmapURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Click(sel.Email, chromedp.ByQuery),
		chromedp.SendKeys(sel.Email, b.email, chromedp.ByQuery),
		chromedp.Click(sel.Password, chromedp.ByQuery),
		chromedp.SendKeys(sel.Password, b.password, chromedp.ByQuery),
		chromedp.Click(sel.Submit, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("roadmap login: %w", err)
	}
	logger.Infof("login submitted, waiting for initial roadmap response")
	return nil
}

func (b *BrowserSource) onEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		if ev.Request == nil || !b.matcher.Match(ev.Request.URL) {
			return
		}
		b.mu.Lock()
		if p, ok := b.pending[ev.RequestID]; ok {
			p.url = ev.Request.URL
		} else {
			b.pending[ev.RequestID] = &pendingRequest{url: ev.Request.URL}
		}
		b.mu.Unlock()
		logger.Debugf("tracking roadmap request %s", ev.Request.URL)
	case *network.EventRequestWillBeSentExtraInfo:
		cookie := headerValue(ev.Headers, "cookie")
		if cookie == "" {
			return
		}
		b.mu.Lock()
		if p, ok := b.pending[ev.RequestID]; ok {
			p.cookie = cookie
		}
		b.mu.Unlock()
	case *network.EventResponseReceived:
		if ev.Response == nil || (ev.Response.Status >= 200 && ev.Response.Status < 300) {
			return
		}
		if p, ok := b.take(ev.RequestID); ok {
			logger.Warnf("roadmap request %s answered %d, still waiting", p.url, ev.Response.Status)
		}
	case *network.EventLoadingFinished:
		if p, ok := b.take(ev.RequestID); ok {
			go b.collect(ev.RequestID, p)
		}
	case *network.EventLoadingFailed:
		b.take(ev.RequestID)
	}
}

func (b *BrowserSource) take(id network.RequestID) (*pendingRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	return p, ok
}

// collect reads the response body; event handlers must not block, so it runs on its own goroutine.
func (b *BrowserSource) collect(id network.RequestID, p *pendingRequest) {
	c := chromedp.FromContext(b.browserCtx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(b.browserCtx, c.Target)
	body, err := network.GetResponseBody(id).Do(execCtx)
	if err != nil {
		logger.Warnf("read roadmap response body failed: %v", err)
		return
	}
	cookie := p.cookie
	if cookie == "" {
		cookies, err := network.GetCookies().WithUrls([]string{p.url}).Do(execCtx)
		if err != nil {
			logger.Warnf("read cookies for %s failed: %v", p.url, err)
		}
		cookie = cookieHeader(cookies)
	}
	select {
	case b.captures <- Capture{URL: p.url, Body: body, CookieHeader: cookie, CapturedAt: time.Now()}:
	case <-b.browserCtx.Done():
	}
}

func (b *BrowserSource) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

func headerValue(headers network.Headers, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func cookieHeader(cookies []*network.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
