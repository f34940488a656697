// Package runtime provides graceful shutdown handling for clash processes.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joss/clash/internal/logging"
)

// ShutdownFunc is a cleanup function called during shutdown
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager tears the process down in reverse order of construction:
// transports first, then the orchestrator, then the browser and the store.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []namedHandler
	timeout  time.Duration
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

type namedHandler struct {
	name string
	fn   ShutdownFunc
}

// DefaultShutdownTimeout bounds all cleanup handlers together.
const DefaultShutdownTimeout = 15 * time.Second

// NewShutdownManager creates a manager whose handlers share timeout.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		log:     logging.New("shutdown"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Register adds a cleanup handler. Handlers run one at a time, last
// registered first.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// RegisterCloser adds an io.Closer style cleanup.
func (m *ShutdownManager) RegisterCloser(name string, close func() error) {
	m.Register(name, func(context.Context) error { return close() })
}

// Context is cancelled when shutdown begins.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// Done is closed once every handler has run.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// ListenForSignals shuts down on SIGINT or SIGTERM.
func (m *ShutdownManager) ListenForSignals() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	logging.SafeGo("shutdown-signals", func() {
		select {
		case sig := <-sigs:
			m.log.Info("signal_received", map[string]interface{}{"signal": sig.String()})
			m.Shutdown()
		case <-m.done:
		}
		signal.Stop(sigs)
	})
}

// Shutdown runs the handlers once and returns their joined errors. Later calls
// wait for the first and return the same result.
func (m *ShutdownManager) Shutdown() error {
	m.once.Do(func() {
		m.err = m.run()
		close(m.done)
	})
	<-m.done
	return m.err
}

func (m *ShutdownManager) run() error {
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := append([]namedHandler(nil), m.handlers...)
	m.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", h.name, ctx.Err()))
			continue
		}

		start := time.Now()
		err := m.call(ctx, h)
		if err != nil {
			m.log.Error("handler_failed", map[string]interface{}{"handler": h.name}, err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.log.TimedEvent("handler_done", start, map[string]interface{}{"handler": h.name})
	}
	return errors.Join(errs...)
}

// call runs one handler, abandoning it when ctx expires.
func (m *ShutdownManager) call(ctx context.Context, h namedHandler) error {
	result := make(chan error, 1)
	logging.SafeGo("shutdown-"+h.name, func() { result <- h.fn(ctx) })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
