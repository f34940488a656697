package browser

import (
	"github.com/joss/clash/internal/agent"
)

// Selectors is a product's DOM vocabulary. Each list is tried in order and the
// first match wins, except Responses, which is queried as one union.
type Selectors struct {
	Input      []string `json:"input"`
	SendButton []string `json:"sendButton"`
	// StopButton counts as streaming only while visible
	StopButton []string `json:"stopButton"`
	Streaming  []string `json:"streaming"`
	Responses  []string `json:"responses"`
	// ResponseParts are joined from inside the last response; ResponseFallback
	// is read when no part has text.
	ResponseParts    []string `json:"responseParts"`
	ResponseFallback []string `json:"responseFallback"`
	ModelButton      []string `json:"modelButton"`
	ModelOption      []string `json:"modelOption"`
	// CurrentModel extracts the active model from the button's aria-label
	CurrentModel string `json:"currentModel"`
}

// Products holds the selector table of every supported agent.
var Products = map[agent.ID]Selectors{
	agent.ChatGPT: {
		Input: []string{
			`#prompt-textarea`,
			`div[class*="prosemirror-parent"] .ProseMirror`,
			`div[class*="prosemirror-parent"] [contenteditable="true"]`,
			`div[data-composer-surface] [contenteditable="true"]`,
			`form [contenteditable="true"]`,
			`div[contenteditable="true"][data-placeholder]`,
		},
		SendButton: []string{
			`button[data-testid="send-button"]`,
			`button[aria-label="Send prompt"]`,
			`form button[aria-label*="Send" i]`,
			`button[class*="send"]`,
		},
		StopButton: []string{
			`button[data-testid="stop-button"]`,
			`button[aria-label="Stop generating"]`,
			`button[aria-label*="Stop" i]`,
		},
		Responses: []string{
			`div[data-message-author-role="assistant"]`,
			`div.agent-turn .markdown`,
			`article[data-testid*="conversation"] div[class*="markdown"]`,
		},
		ModelButton: []string{
			`button[data-testid="model-switcher-dropdown-button"]`,
			`button[aria-label*="Model selector" i]`,
			`button[aria-label*="model" i][aria-haspopup="menu"]`,
		},
		ModelOption: []string{
			`[role="menuitemradio"]`,
			`[role="option"]`,
			`[data-testid*="model-switcher"] [role="menuitem"]`,
		},
		CurrentModel: `current model is (.+)`,
	},

	agent.Claude: {
		Input: []string{
			`div[data-chat-input-container] [contenteditable="true"]`,
			`div[data-chat-input-container] .ProseMirror`,
			`fieldset .ProseMirror[contenteditable="true"]`,
			`fieldset div[contenteditable="true"]`,
			`div.ProseMirror[contenteditable="true"]`,
			`div[contenteditable="true"][translate="no"]`,
		},
		SendButton: []string{
			`div[data-chat-input-container] button[aria-label="Send Message"]`,
			`div[data-chat-input-container] button[aria-label*="Send" i]`,
			`fieldset button[aria-label="Send Message"]`,
			`button[aria-label="Send Message"]`,
			`button[aria-label*="Send message" i]`,
		},
		Streaming:        []string{`div[data-is-streaming="true"]`},
		Responses:        []string{`div[data-is-streaming]`},
		ResponseParts:    []string{`.font-claude-response`},
		ResponseFallback: []string{`.standard-markdown`, `.whitespace-pre-wrap`},
		ModelButton: []string{
			`button[data-testid="model-selector-dropdown"]`,
			`button[aria-haspopup="menu"][aria-label*="model" i]`,
		},
		ModelOption: []string{
			`[data-radix-popper-content-wrapper] [role="option"]`,
			`[data-radix-popper-content-wrapper] [role="menuitemradio"]`,
			`[data-radix-popper-content-wrapper] button[role="menuitem"]`,
			`[role="listbox"] [role="option"]`,
		},
	},

	agent.Gemini: {
		Input: []string{
			`.ql-editor[contenteditable="true"]`,
			`rich-textarea div[contenteditable="true"]`,
			`div[contenteditable="true"][aria-label*="prompt" i]`,
			`div[contenteditable="true"][role="textbox"]`,
		},
		SendButton: []string{
			`button[aria-label*="Send" i]`,
			`button.send-button`,
			`button[mattooltip*="Send" i]`,
			`button[data-test-id="send-button"]`,
		},
		StopButton: []string{
			`button[aria-label*="Stop" i]`,
			`button[mattooltip*="Stop" i]`,
		},
		Streaming: []string{
			`div[class*="loading"]`,
			`mat-progress-bar`,
			`div[class*="thinking"]`,
		},
		Responses: []string{
			`message-content`,
			`model-response .markdown`,
			`div[class*="response-container"] .markdown`,
			`div[class*="model-response"]`,
		},
	},

	agent.Grok: {
		Input: []string{
			`textarea[placeholder*="Ask"]`,
			`textarea[placeholder*="Grok"]`,
			`textarea`,
			`div[contenteditable="true"][role="textbox"]`,
		},
		SendButton: []string{
			`button[aria-label="Send"]`,
			`button[aria-label*="Send" i]`,
			`button[type="submit"]`,
		},
		StopButton: []string{
			`button[aria-label="Stop"]`,
			`button[aria-label*="Stop" i]`,
		},
		Streaming: []string{
			`div[class*="typing"]`,
			`div[class*="loading"]`,
			`div[class*="streaming"]`,
		},
		Responses: []string{
			`div[class*="message"][class*="assistant"]`,
			`div[class*="response"]`,
			`div[data-role="assistant"]`,
			`article div[class*="prose"]`,
		},
	},

	agent.Perplexity: {
		Input: []string{
			`textarea[placeholder*="Ask" i]`,
			`textarea[placeholder*="anything" i]`,
			`textarea`,
			`div[contenteditable="true"][role="textbox"]`,
		},
		SendButton: []string{
			`button[aria-label="Submit"]`,
			`button[aria-label*="Send" i]`,
			`button[type="submit"]`,
			`button[class*="submit" i]`,
		},
		StopButton: []string{
			`button[aria-label="Stop"]`,
			`button[aria-label*="Stop" i]`,
		},
		Streaming: []string{
			`div[class*="loading"]`,
			`div[class*="streaming"]`,
			`div[class*="typing"]`,
		},
		Responses: []string{
			`div[class*="prose"]`,
			`div[class*="answer"]`,
			`div[class*="response"]`,
			`div[class*="markdown"]`,
		},
	},
}
