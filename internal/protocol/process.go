package protocol

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/logging"
)

// processStopTimeout is how long a child gets to exit after its stdin closes.
const processStopTimeout = 5 * time.Second

// ProcessLocator binds each agent to its own adapter process, spoken to over
// stdin/stdout with the JSON-lines adapter protocol. A process that exits is
// started again on the next Locate.
type ProcessLocator struct {
	command func(id agent.ID) *exec.Cmd
	log     *logging.Logger

	mu     sync.Mutex
	procs  map[agent.ID]*adapterProcess
	closed bool
}

type adapterProcess struct {
	cmd    *exec.Cmd
	stdin  io.Closer
	client *AdapterClient
	exited chan struct{}
}

func (p *adapterProcess) alive() bool {
	select {
	case <-p.exited:
		return false
	case <-p.client.Done():
		return false
	default:
		return true
	}
}

// NewProcessLocator returns a locator that runs command(id) for each agent.
func NewProcessLocator(command func(id agent.ID) *exec.Cmd) *ProcessLocator {
	return &ProcessLocator{
		command: command,
		log:     logging.New("adapter-process"),
		procs:   make(map[agent.ID]*adapterProcess),
	}
}

// Locate starts or reuses one process per side. containerID is unused: each
// process opens its agent's page itself. A side whose process fails to start
// is nil.
func (l *ProcessLocator) Locate(ctx context.Context, containerID string, left, right agent.ID, retries int) (agent.Handles, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return agent.Handles{}, ErrClientClosed
	}

	var h agent.Handles
	for _, side := range []struct {
		id   agent.ID
		slot *agent.Adapter
	}{{left, &h.Left}, {right, &h.Right}} {
		if _, err := agent.Lookup(string(side.id)); err != nil {
			return agent.Handles{}, err
		}
		client, err := l.get(side.id)
		if err != nil {
			l.log.Warn("process_start_failed", map[string]interface{}{"agent": string(side.id)}, err)
			continue
		}
		*side.slot = client
	}
	return h, nil
}

func (l *ProcessLocator) get(id agent.ID) (*AdapterClient, error) {
	if p, ok := l.procs[id]; ok {
		if p.alive() {
			return p.client, nil
		}
		delete(l.procs, id)
	}

	cmd := l.command(id)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start adapter for %s: %w", id, err)
	}

	p := &adapterProcess{
		cmd:    cmd,
		stdin:  stdin,
		client: NewAdapterClient(stdout, stdin),
		exited: make(chan struct{}),
	}
	logging.SafeGo("adapter-process-wait", func() {
		<-p.client.Done()
		err := cmd.Wait()
		close(p.exited)
		l.log.Info("process_exited", map[string]interface{}{
			"agent": string(id),
			"pid":   cmd.Process.Pid,
			"error": errString(err),
		})
	})
	l.procs[id] = p

	l.log.Info("process_started", map[string]interface{}{
		"agent": string(id),
		"pid":   cmd.Process.Pid,
	})
	return p.client, nil
}

// Close ends every child: stdin is closed so the adapter returns, and a child
// still running after processStopTimeout is killed.
func (l *ProcessLocator) Close() error {
	l.mu.Lock()
	l.closed = true
	procs := l.procs
	l.procs = make(map[agent.ID]*adapterProcess)
	l.mu.Unlock()

	for _, p := range procs {
		p.stdin.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), processStopTimeout)
	defer cancel()
	for id, p := range procs {
		select {
		case <-p.exited:
		case <-ctx.Done():
			l.log.Warn("process_killed", map[string]interface{}{"agent": string(id)}, nil)
			p.cmd.Process.Kill()
			<-p.exited
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
