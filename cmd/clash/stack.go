package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/browser"
	"github.com/joss/clash/internal/config"
	"github.com/joss/clash/internal/orchestrator"
	"github.com/joss/clash/internal/protocol"
	"github.com/joss/clash/internal/runtime"
	"github.com/joss/clash/internal/store"
	"github.com/joss/clash/internal/transport"
)

// stack is one in-process orchestrator with everything it drives.
type stack struct {
	store    *store.SQLite
	browser  *browser.Browser
	hub      *transport.Hub
	orch     *orchestrator.Orchestrator
	server   *transport.Server
	shutdown *runtime.ShutdownManager
}

// startStack builds the orchestrator. Components register with the shutdown
// manager as they come up, so a failure halfway releases what exists.
func startStack() (*stack, error) {
	s := &stack{
		hub:      transport.NewHub(),
		shutdown: runtime.NewShutdownManager(runtime.DefaultShutdownTimeout),
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	s.store = st
	s.shutdown.RegisterCloser("store", st.Close)

	if cfg.Browser.UserDataDir != "" {
		if err := config.EnsureDir(cfg.Browser.UserDataDir); err != nil {
			return nil, errors.Join(err, s.shutdown.Shutdown())
		}
	}
	b, err := browser.Open(context.Background(), cfg.Browser)
	if err != nil {
		return nil, errors.Join(err, s.shutdown.Shutdown())
	}
	s.browser = b
	s.shutdown.RegisterCloser("browser", b.Close)

	var loc orchestrator.Locator = browser.NewLocator(b, cfg.Locator.Interval, browser.TimingFromConfig(cfg.Timing))
	if cfg.Orchestrator.AdapterProcesses {
		procs, err := adapterProcesses(b.ControlURL())
		if err != nil {
			return nil, errors.Join(err, s.shutdown.Shutdown())
		}
		s.shutdown.RegisterCloser("adapter-processes", procs.Close)
		loc = procs
	}
	opts := orchestrator.OptionsFromConfig(cfg, containerURL(serverAddr))
	opts.History = st
	opts.Emitter = s.hub

	orch, err := orchestrator.New(loc, st, opts)
	if err != nil {
		return nil, errors.Join(err, s.shutdown.Shutdown())
	}
	s.orch = orch
	s.shutdown.RegisterCloser("orchestrator", orch.Close)

	s.server = transport.NewServer(orch, s.hub, transport.ServerOptions{Heartbeat: cfg.Server.Heartbeat})
	return s, nil
}

// adapterProcesses runs `clash adapter --agent <id>` per agent, attached to
// the browser at controlURL.
func adapterProcesses(controlURL string) (*protocol.ProcessLocator, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return protocol.NewProcessLocator(func(id agent.ID) *exec.Cmd {
		cmd := exec.Command(exe, "adapter", "--agent", string(id))
		cmd.Env = append(os.Environ(), config.EnvPrefix+"_BROWSER_CONTROL_URL="+controlURL)
		cmd.Stderr = os.Stderr
		return cmd
	}), nil
}

// serveHTTP runs the HTTP transport until shutdown. The container page is
// served from here, so every stack needs it.
func (s *stack) serveHTTP(addr string) <-chan error {
	errc := make(chan error, 1)
	ctx := s.shutdown.Context()
	go func() { errc <- s.server.Run(ctx, addr) }()

	stopped := make(chan struct{})
	s.shutdown.Register("http", func(ctx context.Context) error {
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	out := make(chan error, 1)
	go func() {
		err := <-errc
		close(stopped)
		out <- err
	}()
	return out
}

// containerURL is the arena page served on addr, reachable from the browser.
func containerURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/arena"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/arena"
}
