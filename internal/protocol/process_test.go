package protocol

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/clash/internal/agent"
)

const helperEnv = "CLASH_TEST_ADAPTER_PROCESS"

// TestAdapterProcessHelper is the child side of the process tests: it serves
// a fake adapter on stdin/stdout when started with helperEnv set.
func TestAdapterProcessHelper(t *testing.T) {
	if os.Getenv(helperEnv) == "" {
		t.Skip("child process only")
	}
	ServeAdapter(context.Background(), &fakeAdapter{}, os.Stdin, os.Stdout)
	os.Exit(0)
}

func helperLocator() *ProcessLocator {
	return NewProcessLocator(func(id agent.ID) *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=^TestAdapterProcessHelper$")
		cmd.Env = append(os.Environ(), helperEnv+"="+string(id))
		return cmd
	})
}

func TestProcessLocatorDrivesChildren(t *testing.T) {
	loc := helperLocator()
	defer loc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := loc.Locate(ctx, "", agent.ChatGPT, agent.Claude, 1)
	require.NoError(t, err)
	require.True(t, h.Complete())
	assert.NotSame(t, h.Left, h.Right)

	ready, err := h.Left.IsReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)

	require.NoError(t, h.Right.SendMessage(ctx, "[Turn 1]\nhello"))
	require.NoError(t, h.Right.WaitForResponseComplete(ctx))
	text, ok, err := h.Right.GetLatestResponse(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "echo: [Turn 1]\nhello", text)

	again, err := loc.Locate(ctx, "", agent.ChatGPT, agent.Claude, 1)
	require.NoError(t, err)
	assert.Same(t, h.Left, again.Left, "live process is reused")
}

func TestProcessLocatorRestartsExitedChild(t *testing.T) {
	loc := helperLocator()
	defer loc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := loc.Locate(ctx, "", agent.ChatGPT, agent.Claude, 1)
	require.NoError(t, err)

	loc.mu.Lock()
	first := loc.procs[agent.ChatGPT]
	loc.mu.Unlock()
	require.NoError(t, first.cmd.Process.Kill())
	<-first.exited

	_, err = h.Left.IsReady(ctx)
	assert.ErrorIs(t, err, ErrClientClosed)

	fresh, err := loc.Locate(ctx, "", agent.ChatGPT, agent.Claude, 1)
	require.NoError(t, err)
	assert.NotSame(t, h.Left, fresh.Left)
	ready, err := fresh.Left.IsReady(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestProcessLocatorStartFailure(t *testing.T) {
	loc := NewProcessLocator(func(id agent.ID) *exec.Cmd {
		return exec.Command("/nonexistent/clash-adapter")
	})
	defer loc.Close()

	h, err := loc.Locate(context.Background(), "", agent.ChatGPT, agent.Claude, 1)
	require.NoError(t, err)
	assert.Nil(t, h.Left)
	assert.Nil(t, h.Right)

	_, err = loc.Locate(context.Background(), "", "bard", agent.Claude, 1)
	assert.ErrorIs(t, err, agent.ErrUnknownAgent)
}

func TestProcessLocatorClosed(t *testing.T) {
	loc := helperLocator()
	require.NoError(t, loc.Close())
	_, err := loc.Locate(context.Background(), "", agent.ChatGPT, agent.Claude, 1)
	assert.ErrorIs(t, err, ErrClientClosed)
}
