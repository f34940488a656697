// Package selftest validates the environment clash runs in.
package selftest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/joss/clash/internal/config"
)

// Component states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// ComponentStatus is the health of one component.
type ComponentStatus struct {
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report is the outcome of a full check.
type Report struct {
	Status     string                     `json:"status"` // healthy, degraded, unhealthy
	HasTTY     bool                       `json:"tty"`
	Components map[string]ComponentStatus `json:"components"`
	Warnings   []string                   `json:"warnings,omitempty"`
	Timestamp  string                     `json:"timestamp"`
}

// Options configures Check.
type Options struct {
	Config *config.Config
	// ServerURL is the orchestrator base URL, e.g. http://127.0.0.1:7878
	ServerURL string
	HTTP      *http.Client
	// LookPath finds a browser binary; nil uses rod's launcher lookup
	LookPath func() (string, bool)
}

type check struct {
	name string
	run  func(context.Context, Options) ComponentStatus
}

func checks() []check {
	return []check{
		{"browser", checkBrowser},
		{"profile", checkProfile},
		{"store", checkStore},
		{"server", checkServer},
	}
}

// Check runs every component check concurrently.
func Check(ctx context.Context, opts Options) *Report {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 5 * time.Second}
	}

	r := &Report{
		Status:     "healthy",
		HasTTY:     term.IsTerminal(int(os.Stdin.Fd())),
		Components: make(map[string]ComponentStatus),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if opts.Config.Browser.Headless {
		r.Warnings = append(r.Warnings, "browser.headless is on; most chat products refuse headless sessions")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range checks() {
		wg.Add(1)
		go func(c check) {
			defer wg.Done()
			start := time.Now()
			result := c.run(ctx, opts)
			result.Latency = time.Since(start).Milliseconds()

			mu.Lock()
			defer mu.Unlock()
			r.Components[c.name] = result
			switch {
			case result.Status == StatusError:
				r.Status = "unhealthy"
			case result.Status == StatusDegraded && r.Status == "healthy":
				r.Status = "degraded"
			}
		}(c)
	}
	wg.Wait()

	return r
}

// IsHealthy reports whether a session can run.
func (r *Report) IsHealthy() bool {
	return r.Status != "unhealthy"
}

func (r *Report) names() []string {
	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary returns a human-readable report.
func (r *Report) Summary() string {
	var sb strings.Builder

	sb.WriteString("CLASH ENVIRONMENT CHECK\n")
	sb.WriteString(strings.Repeat("─", 40) + "\n")

	tty := "No"
	if r.HasTTY {
		tty = "Yes"
	}
	sb.WriteString(fmt.Sprintf("%-10s %s\n", "TTY:", tty))

	for _, name := range r.names() {
		c := r.Components[name]
		line := strings.ToUpper(c.Status)
		if c.Detail != "" {
			line += "  " + c.Detail
		}
		if c.Error != "" {
			line += "  (" + c.Error + ")"
		}
		sb.WriteString(fmt.Sprintf("%-10s %s\n", name+":", line))
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", w))
		}
	}

	sb.WriteString("\n")
	switch r.Status {
	case "healthy":
		sb.WriteString("Status: HEALTHY\n")
	case "degraded":
		sb.WriteString("Status: DEGRADED - sessions can run\n")
	default:
		sb.WriteString("Status: UNHEALTHY - fix errors above\n")
	}
	return sb.String()
}

// QuickCheck returns a one-line status.
func (r *Report) QuickCheck() string {
	parts := make([]string, 0, len(r.Components)+1)
	for _, name := range r.names() {
		parts = append(parts, name+":"+r.Components[name].Status)
	}
	parts = append(parts, "status:"+r.Status)
	return strings.Join(parts, " ")
}
