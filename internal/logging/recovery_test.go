package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardPassesThrough(t *testing.T) {
	assert.NoError(t, Guard("step", func() error { return nil }))

	sentinel := errors.New("adapter failed")
	assert.Same(t, sentinel, Guard("step", func() error { return sentinel }))
}

func TestGuardRecoversPanic(t *testing.T) {
	err := Guard("orchestrator-turn", func() error {
		panic("frame detached")
	})
	require.Error(t, err)

	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "orchestrator-turn", pe.Component)
	assert.Equal(t, "frame detached", pe.Value)
	assert.Contains(t, pe.Stack, "TestGuardRecoversPanic")
	assert.EqualError(t, err, "panic in orchestrator-turn: frame detached")
}

func TestGuardLogsPanic(t *testing.T) {
	buf := capture(t, LevelInfo)

	_ = Guard("actor", func() error { panic("boom") })

	out := buf.String()
	assert.Contains(t, out, `"event":"panic_recovered"`)
	assert.Contains(t, out, `"component":"actor"`)
	assert.Contains(t, out, "panic in actor: boom")
}

func TestSafeGo(t *testing.T) {
	done := make(chan struct{})
	SafeGo("locator", func() {
		defer close(done)
		panic("goroutine panic")
	})
	<-done
}
