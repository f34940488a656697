package browser

import (
	"context"
	"net/url"
	"time"

	"github.com/go-rod/rod"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/logging"
)

// Locator finds the agent frames inside the container page.
type Locator struct {
	browser  *Browser
	interval time.Duration
	timing   Timing
	log      *logging.Logger
}

// NewLocator scans b's container page every interval.
func NewLocator(b *Browser, interval time.Duration, timing Timing) *Locator {
	return &Locator{
		browser:  b,
		interval: interval,
		timing:   timing,
		log:      logging.New("locator"),
	}
}

// ContainerURL is the container page for a pair of agents.
func ContainerURL(containerID string, left, right agent.ID) string {
	u, err := url.Parse(containerID)
	if err != nil {
		return containerID
	}
	q := u.Query()
	q.Set("left", string(left))
	q.Set("right", string(right))
	u.RawQuery = q.Encode()
	return u.String()
}

// Locate opens the container for left and right and binds an adapter to each
// frame found within retries attempts. Missing sides are nil.
func (l *Locator) Locate(ctx context.Context, containerID string, left, right agent.ID, retries int) (agent.Handles, error) {
	leftInfo, err := agent.Lookup(string(left))
	if err != nil {
		return agent.Handles{}, err
	}
	rightInfo, err := agent.Lookup(string(right))
	if err != nil {
		return agent.Handles{}, err
	}

	page, err := l.browser.Container(ctx, ContainerURL(containerID, left, right))
	if err != nil {
		return agent.Handles{}, err
	}

	var frames []*rod.Page
	li, ri := -1, -1
	for attempt := 1; attempt <= retries; attempt++ {
		var urls []string
		frames, urls = l.scan(ctx, page)
		li, ri = assign(urls, leftInfo, rightInfo)
		if li >= 0 && ri >= 0 {
			break
		}
		l.log.Debug("frames_missing", map[string]interface{}{
			"attempt": attempt,
			"frames":  len(urls),
			"left":    li >= 0,
			"right":   ri >= 0,
		})
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return agent.Handles{}, ctx.Err()
		case <-time.After(l.interval):
		}
	}

	var h agent.Handles
	if li >= 0 {
		a, err := NewAdapter(leftInfo, frames[li], l.timing)
		if err != nil {
			return agent.Handles{}, err
		}
		h.Left = a
	}
	if ri >= 0 {
		a, err := NewAdapter(rightInfo, frames[ri], l.timing)
		if err != nil {
			return agent.Handles{}, err
		}
		h.Right = a
	}
	l.log.Info("frames_located", map[string]interface{}{
		"left":  string(left),
		"right": string(right),
		"found": h.Complete(),
	})
	return h, nil
}

// scan lists the container's iframes with their current URLs.
func (l *Locator) scan(ctx context.Context, page *rod.Page) ([]*rod.Page, []string) {
	els, err := page.Context(ctx).Elements("iframe")
	if err != nil {
		l.log.Debug("scan_failed", nil)
		return nil, nil
	}

	frames := make([]*rod.Page, 0, len(els))
	urls := make([]string, 0, len(els))
	for _, el := range els {
		fr, err := el.Frame()
		if err != nil {
			continue
		}
		frames = append(frames, fr)
		urls = append(urls, frameURL(ctx, fr, el))
	}
	return frames, urls
}

// frameURL prefers the frame's live location over its src attribute, which
// goes stale after redirects.
func frameURL(ctx context.Context, fr *rod.Page, el *rod.Element) string {
	if res, err := fr.Context(ctx).Eval(`() => location.href`); err == nil {
		if href := res.Value.Str(); href != "" && href != "about:blank" {
			return href
		}
	}
	if src, err := el.Attribute("src"); err == nil && src != nil {
		return *src
	}
	return ""
}

// assign picks the first frame matching each side. One frame never serves
// both sides.
func assign(urls []string, left, right agent.Info) (int, int) {
	li, ri := -1, -1
	for i, u := range urls {
		if li < 0 && left.MatchesURL(u) {
			li = i
			continue
		}
		if ri < 0 && right.MatchesURL(u) {
			ri = i
		}
	}
	return li, ri
}
