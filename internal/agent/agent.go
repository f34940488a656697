// Package agent defines the closed set of chat products clash can drive and the
// uniform capability each product adapter exposes to the orchestrator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/clash/internal/domain"
)

// ID names an agent product.
type ID string

const (
	ChatGPT    ID = "chatgpt"
	Claude     ID = "claude"
	Gemini     ID = "gemini"
	Grok       ID = "grok"
	Perplexity ID = "perplexity"
)

// Defaults used when a command omits an agent.
const (
	DefaultLeft  = ChatGPT
	DefaultRight = Claude
)

// ErrUnknownAgent is returned for IDs outside the registry.
var ErrUnknownAgent = errors.New("unknown agent")

// Info describes one product.
type Info struct {
	ID    ID
	Name  string
	URL   string
	Color string
	// Hosts are doublestar patterns matched against a frame's hostname.
	Hosts []string
}

var registry = map[ID]Info{
	ChatGPT: {
		ID: ChatGPT, Name: "ChatGPT", URL: "https://chatgpt.com/", Color: "#10a37f",
		Hosts: []string{"chatgpt.com", "*.chatgpt.com", "chat.openai.com"},
	},
	Claude: {
		ID: Claude, Name: "Claude", URL: "https://claude.ai/new", Color: "#d97706",
		Hosts: []string{"claude.ai", "*.claude.ai"},
	},
	Grok: {
		ID: Grok, Name: "Grok", URL: "https://grok.com/", Color: "#1d9bf0",
		Hosts: []string{"grok.com", "*.grok.com"},
	},
	Gemini: {
		ID: Gemini, Name: "Gemini", URL: "https://gemini.google.com/app", Color: "#4285f4",
		Hosts: []string{"gemini.google.com"},
	},
	Perplexity: {
		ID: Perplexity, Name: "Perplexity", URL: "https://www.perplexity.ai/", Color: "#20b2aa",
		Hosts: []string{"perplexity.ai", "*.perplexity.ai"},
	},
}

// Lookup returns the registry entry for id.
func Lookup(id string) (Info, error) {
	info, ok := registry[ID(strings.ToLower(strings.TrimSpace(id)))]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	return info, nil
}

// Name returns the display name for id, or id itself when unknown.
func Name(id string) string {
	if info, err := Lookup(id); err == nil {
		return info.Name
	}
	return id
}

// All returns every registered agent ordered by ID.
func All() []Info {
	out := make([]Info, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MatchesHost reports whether host belongs to this product.
func (i Info) MatchesHost(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range i.Hosts {
		if ok, _ := doublestar.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// MatchesURL reports whether rawURL is served by this product.
func (i Info) MatchesURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return i.MatchesHost(u.Hostname())
}

// Adapter is the capability set implemented per product against its DOM.
// Every method may block on the page and honours ctx cancellation.
type Adapter interface {
	// IsReady reports whether the input control is present and usable.
	IsReady(ctx context.Context) (bool, error)
	// SendMessage inserts text into the input and submits it.
	SendMessage(ctx context.Context, text string) error
	// WaitForResponseComplete blocks until the reply to the last message has settled.
	WaitForResponseComplete(ctx context.Context) error
	// GetLatestResponse returns the text of the newest reply; ok is false when none exists.
	GetLatestResponse(ctx context.Context) (text string, ok bool, err error)
	// GetAvailableModels lists selectable model variants; empty when unsupported.
	GetAvailableModels(ctx context.Context) ([]domain.Model, error)
	// SelectModel switches variants; a no-op when already selected.
	SelectModel(ctx context.Context, id string) error
}

// Handles pairs the adapters bound to each side of one container page.
type Handles struct {
	Left  Adapter
	Right Adapter
}

// Get returns the adapter for side, possibly nil.
func (h Handles) Get(side domain.Side) Adapter {
	if side == domain.Left {
		return h.Left
	}
	return h.Right
}

// Complete reports whether both sides resolved.
func (h Handles) Complete() bool {
	return h.Left != nil && h.Right != nil
}
