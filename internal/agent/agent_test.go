package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/clash/internal/domain"
)

func TestLookup(t *testing.T) {
	info, err := Lookup("ChatGPT ")
	require.NoError(t, err)
	assert.Equal(t, ChatGPT, info.ID)
	assert.Equal(t, "https://chatgpt.com/", info.URL)

	_, err = Lookup("bard")
	assert.True(t, errors.Is(err, ErrUnknownAgent))
}

func TestName(t *testing.T) {
	assert.Equal(t, "Claude", Name("claude"))
	assert.Equal(t, "mystery", Name("mystery"))
}

func TestAllSorted(t *testing.T) {
	all := All()
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestMatchesURL(t *testing.T) {
	tests := []struct {
		agent ID
		url   string
		want  bool
	}{
		{ChatGPT, "https://chatgpt.com/c/123", true},
		{ChatGPT, "https://www.chatgpt.com/", true},
		{ChatGPT, "https://chat.openai.com/", true},
		{ChatGPT, "https://claude.ai/new", false},
		{Claude, "https://claude.ai/chat/abc", true},
		{Claude, "https://evilclaude.ai/", false},
		{Gemini, "https://gemini.google.com/app", true},
		{Gemini, "https://google.com/", false},
		{Grok, "https://grok.com/", true},
		{Perplexity, "https://www.perplexity.ai/search", true},
		{Perplexity, "about:blank", false},
		{Perplexity, "::not a url", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.agent)+" "+tt.url, func(t *testing.T) {
			info, err := Lookup(string(tt.agent))
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.MatchesURL(tt.url))
		})
	}
}

type nopAdapter struct{}

func (nopAdapter) IsReady(context.Context) (bool, error)                      { return true, nil }
func (nopAdapter) SendMessage(context.Context, string) error                  { return nil }
func (nopAdapter) WaitForResponseComplete(context.Context) error              { return nil }
func (nopAdapter) GetLatestResponse(context.Context) (string, bool, error)    { return "", false, nil }
func (nopAdapter) GetAvailableModels(context.Context) ([]domain.Model, error) { return nil, nil }
func (nopAdapter) SelectModel(context.Context, string) error                  { return nil }

func TestHandles(t *testing.T) {
	var h Handles
	assert.False(t, h.Complete())
	assert.Nil(t, h.Get(domain.Left))

	h.Left = nopAdapter{}
	assert.False(t, h.Complete())
	assert.NotNil(t, h.Get(domain.Left))
	assert.Nil(t, h.Get(domain.Right))

	h.Right = nopAdapter{}
	assert.True(t, h.Complete())
}
