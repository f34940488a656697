// Package browser drives the chat products through a Chromium instance: it owns
// the container page that frames both agents, locates the agent frames and
// exposes each one as an agent.Adapter.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/joss/clash/internal/config"
	"github.com/joss/clash/internal/logging"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser closed")

// topOverride runs in every frame before page scripts so frame-busting checks
// see themselves as the top window.
const topOverride = `() => {
	if (window.top === window.self) return;
	try {
		Object.defineProperty(window, 'top', {
			get: function () { return window.self; },
			configurable: false,
		});
	} catch (e) {}
}`

// Browser is a launched or attached Chromium holding the agent logins.
type Browser struct {
	cfg config.BrowserConfig
	log *logging.Logger

	controlURL string

	mu       sync.Mutex
	rod      *rod.Browser
	launcher *launcher.Launcher
	guarded  map[proto.TargetTargetID]bool
	closed   bool
}

// Open launches Chromium with the configured profile, or connects to
// cfg.ControlURL when set.
func Open(ctx context.Context, cfg config.BrowserConfig) (*Browser, error) {
	b := &Browser{
		cfg:     cfg,
		log:     logging.New("browser"),
		guarded: make(map[proto.TargetTargetID]bool),
	}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		path := cfg.Bin
		if path == "" {
			found, ok := launcher.LookPath()
			if !ok {
				return nil, errors.New("no chromium binary found; set browser.bin")
			}
			path = found
		}
		// Agent frames must share the container's renderer so they can be
		// reached through the container DOM and intercepted by its session.
		l := launcher.New().
			Context(ctx).
			Bin(path).
			Headless(cfg.Headless).
			Set("disable-site-isolation-trials").
			Set("disable-features", "IsolateOrigins,site-per-process")
		if cfg.UserDataDir != "" {
			l = l.UserDataDir(cfg.UserDataDir)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
		b.launcher = l
	}

	b.controlURL = controlURL
	rb := rod.New().ControlURL(controlURL)
	if err := rb.Connect(); err != nil {
		if b.launcher != nil {
			b.launcher.Kill()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	b.rod = rb

	b.log.Info("browser_ready", map[string]interface{}{
		"attached":  cfg.ControlURL != "",
		"headless":  cfg.Headless,
		"user_data": cfg.UserDataDir,
	})
	return b, nil
}

// ControlURL is the DevTools endpoint other processes can attach to.
func (b *Browser) ControlURL() string { return b.controlURL }

// Close disconnects, and kills the process when it was launched here.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.launcher != nil {
		err = b.rod.Close()
		b.launcher.Kill()
	}
	return err
}

// Container returns the tab showing rawURL, reusing a tab already on the same
// container path and navigating it when its query differs.
func (b *Browser) Container(ctx context.Context, rawURL string) (*rod.Page, error) {
	want, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("container url: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	pages, err := b.rod.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		have, err := url.Parse(info.URL)
		if err != nil || !samePage(have, want) {
			continue
		}
		if err := b.guard(ctx, p); err != nil {
			return nil, err
		}
		if have.RawQuery != want.RawQuery {
			b.log.Info("container_navigate", map[string]interface{}{"url": rawURL})
			if err := p.Context(ctx).Navigate(rawURL); err != nil {
				return nil, fmt.Errorf("navigate container: %w", err)
			}
		}
		return p, nil
	}

	p, err := b.rod.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	if err := b.guard(ctx, p); err != nil {
		return nil, err
	}
	b.log.Info("container_opened", map[string]interface{}{"url": rawURL})
	if err := p.Context(ctx).Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate container: %w", err)
	}
	return p, nil
}

func samePage(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host && strings.TrimSuffix(a.Path, "/") == strings.TrimSuffix(b.Path, "/")
}

// guard installs the frame-busting override and the header filter on p once.
// Caller holds b.mu.
func (b *Browser) guard(ctx context.Context, p *rod.Page) error {
	if b.guarded[p.TargetID] {
		return nil
	}
	if _, err := p.EvalOnNewDocument("(" + topOverride + ")()"); err != nil {
		return fmt.Errorf("install top override: %w", err)
	}

	err := proto.FetchEnable{
		Patterns: []*proto.FetchRequestPattern{{
			URLPattern:   "*",
			ResourceType: proto.NetworkResourceTypeDocument,
			RequestStage: proto.FetchRequestStageResponse,
		}},
	}.Call(p)
	if err != nil {
		return fmt.Errorf("enable fetch: %w", err)
	}

	// Bound to the browser lifetime, not the caller's request.
	events := p.Context(context.WithoutCancel(ctx))
	wait := events.EachEvent(func(e *proto.FetchRequestPaused) {
		b.release(events, e)
	})
	logging.SafeGo("browser-fetch", wait)

	b.guarded[p.TargetID] = true
	return nil
}

// release lets a paused document response through without the headers that
// forbid framing it.
func (b *Browser) release(p *rod.Page, e *proto.FetchRequestPaused) {
	if e.ResponseErrorReason != "" || e.ResponseStatusCode == nil {
		_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
		return
	}

	headers, stripped := FilterFrameHeaders(e.ResponseHeaders)
	if !stripped {
		_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
		return
	}

	status := *e.ResponseStatusCode
	if status >= 300 && status < 400 {
		_ = proto.FetchFulfillRequest{
			RequestID:       e.RequestID,
			ResponseCode:    status,
			ResponseHeaders: headers,
		}.Call(p)
		return
	}

	body, err := proto.FetchGetResponseBody{RequestID: e.RequestID}.Call(p)
	if err != nil {
		b.log.Warn("frame_body_failed", map[string]interface{}{"url": e.Request.URL}, err)
		_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
		return
	}
	raw := []byte(body.Body)
	if body.Base64Encoded {
		if raw, err = base64.StdEncoding.DecodeString(body.Body); err != nil {
			_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(p)
			return
		}
	}

	err = proto.FetchFulfillRequest{
		RequestID:       e.RequestID,
		ResponseCode:    status,
		ResponseHeaders: headers,
		Body:            raw,
	}.Call(p)
	if err != nil {
		b.log.Warn("frame_fulfill_failed", map[string]interface{}{"url": e.Request.URL}, err)
	}
}

// FilterFrameHeaders drops X-Frame-Options and the frame-ancestors directive
// of any Content-Security-Policy. It reports whether anything changed.
func FilterFrameHeaders(in []*proto.FetchHeaderEntry) ([]*proto.FetchHeaderEntry, bool) {
	out := make([]*proto.FetchHeaderEntry, 0, len(in))
	changed := false
	for _, h := range in {
		switch strings.ToLower(h.Name) {
		case "x-frame-options":
			changed = true
			continue
		case "content-security-policy", "content-security-policy-report-only":
			policy, dropped := dropDirective(h.Value, "frame-ancestors")
			if !dropped {
				break
			}
			changed = true
			if policy == "" {
				continue
			}
			out = append(out, &proto.FetchHeaderEntry{Name: h.Name, Value: policy})
			continue
		}
		out = append(out, h)
	}
	return out, changed
}

func dropDirective(policy, name string) (string, bool) {
	parts := strings.Split(policy, ";")
	kept := parts[:0]
	dropped := false
	for _, part := range parts {
		d := strings.TrimSpace(part)
		if d == "" {
			continue
		}
		if strings.EqualFold(strings.Fields(d)[0], name) {
			dropped = true
			continue
		}
		kept = append(kept, d)
	}
	return strings.Join(kept, "; "), dropped
}
