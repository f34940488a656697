package orchestrator

import (
	"errors"
	"fmt"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/domain"
)

var (
	// ErrCannotResume is returned by Continue unless the session ended naturally.
	ErrCannotResume = errors.New("session cannot be resumed: it did not end naturally")
	// ErrNotRunning is returned by Stop when nothing is preparing or debating.
	ErrNotRunning = errors.New("no session is running")
	// ErrActive is returned by Reset while a session is running.
	ErrActive = errors.New("a session is running")
	// ErrInvalidParams wraps every Start validation failure.
	ErrInvalidParams = errors.New("invalid parameters")
	// ErrClosed is returned once the orchestrator has shut down.
	ErrClosed = errors.New("orchestrator closed")
	// ErrNoResponse is reported when an agent settles without any reply.
	ErrNoResponse = errors.New("no response found")
)

// ResolutionError reports an agent whose frame could not be located.
type ResolutionError struct {
	Agent string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("Could not find %s iframe. Make sure the page has loaded.", agent.Name(e.Agent))
}

// ReadinessError reports an agent whose input never became usable.
type ReadinessError struct {
	Agent string
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("%s adapter did not become ready in time. Make sure you are logged in.", agent.Name(e.Agent))
}

// AdapterError wraps a failed adapter call during a turn.
type AdapterError struct {
	Side domain.Side
	Op   string
	Err  error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s agent: %s: %v", e.Side, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }
