package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/orchestrator"
	"github.com/joss/clash/internal/protocol"
	"github.com/joss/clash/internal/render"
	"github.com/joss/clash/internal/transport"
)

func serveCmd() *cobra.Command {
	var stdio bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and its browser",
		Long: heredoc.Doc(`
			Launch (or connect to) Chromium, open the arena page and run the
			orchestrator until interrupted.

			Commands and events are served over HTTP on --server:
			  POST /api/commands   command envelope in, reply out
			  GET  /api/status     current snapshot
			  GET  /api/events     server-sent events, one observer at a time
			  GET  /arena          the container page hosting both agents

			With --stdio, commands are also read as JSON lines from stdin and
			replies and events are written to stdout.
		`),
		Run: func(cmd *cobra.Command, args []string) {
			log := logging.New("serve")

			s, err := startStack()
			if err != nil {
				exitOnError(err)
			}
			s.shutdown.ListenForSignals()
			httpErr := s.serveHTTP(serverAddr)

			if stdio {
				logging.SafeGo("stdio", func() {
					err := transport.ServeStdio(s.shutdown.Context(), s.orch, s.hub, os.Stdin, os.Stdout)
					if err != nil && !errors.Is(err, context.Canceled) {
						log.Error("stdio_failed", nil, err)
					}
					s.shutdown.Shutdown()
				})
			}

			select {
			case err := <-httpErr:
				if err != nil {
					log.Error("http_failed", map[string]interface{}{"addr": serverAddr}, err)
				}
			case <-s.shutdown.Done():
			}
			if err := s.shutdown.Shutdown(); err != nil {
				exitOnError(err)
			}
		},
	}

	cmd.Flags().BoolVar(&stdio, "stdio", false, "Also serve JSON-lines commands on stdin/stdout")
	return cmd
}

// startFlags binds the START_DEBATE parameters.
func startFlags(cmd *cobra.Command, p *protocol.StartPayload) {
	var mode string
	cmd.Flags().StringVarP(&p.Topic, "topic", "t", "", "Topic or opening question (required)")
	cmd.Flags().StringVar(&p.LeftAgentID, "left", string(agent.DefaultLeft), "Left agent")
	cmd.Flags().StringVar(&p.RightAgentID, "right", string(agent.DefaultRight), "Right agent")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(domain.ModeDebate), "Conversation mode (see 'clash modes')")
	cmd.Flags().IntVarP(&p.RoundLimit, "rounds", "r", 0, "Round limit (0 = until natural end or safety cap)")
	cmd.Flags().BoolVar(&p.AutoEnd, "auto-end", false, "Let agents end the session by agreement")
	cmd.Flags().StringVar(&p.LeftPersona, "left-persona", "", "Persona for the left agent (see 'clash personas')")
	cmd.Flags().StringVar(&p.RightPersona, "right-persona", "", "Persona for the right agent")
	cmd.Flags().StringVar(&p.Setting, "setting", "", "Scene or setting shared by both agents")
	cmd.Flags().StringVar(&p.LeftModel, "left-model", "", "Model variant for the left agent")
	cmd.Flags().StringVar(&p.RightModel, "right-model", "", "Model variant for the right agent")

	prev := cmd.PreRunE
	cmd.PreRunE = func(c *cobra.Command, args []string) error {
		p.Mode = domain.Mode(mode)
		if err := checkStart(p); err != nil {
			return err
		}
		if prev != nil {
			return prev(c, args)
		}
		return nil
	}
}

func runCmd() *cobra.Command {
	var p protocol.StartPayload

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one session in-process and print it",
		Example: heredoc.Doc(`
			clash run -t "Is water wet?" --rounds 3
			clash run -t "Pineapple on pizza" --mode roast --left grok --right gemini
		`),
		Run: func(cmd *cobra.Command, args []string) {
			s, err := startStack()
			if err != nil {
				exitOnError(err)
			}
			httpErr := s.serveHTTP(serverAddr)
			go func() {
				if err := <-httpErr; err != nil {
					fmt.Fprintf(os.Stderr, "Error: arena server: %v\n", err)
					s.shutdown.Shutdown()
				}
			}()

			err = runLocal(s, &p, newRenderer())
			if shutErr := s.shutdown.Shutdown(); err == nil {
				err = shutErr
			}
			if err != nil {
				exitOnError(err)
			}
		},
	}

	startFlags(cmd, &p)
	return cmd
}

// runLocal starts the session on s and prints its events until it ends. An
// interrupt stops the session so it is archived as stopped.
func runLocal(s *stack, p *protocol.StartPayload, r *render.Renderer) error {
	ctx, cancel := signal.NotifyContext(s.shutdown.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sub := s.hub.Attach()
	defer s.hub.Detach(sub)

	if _, err := s.orch.Handle(ctx, protocol.NewEnvelope(protocol.MsgStartDebate, p)); err != nil {
		return err
	}

	interrupt := ctx.Done()
	var grace <-chan time.Time
	for {
		select {
		case <-interrupt:
			interrupt = nil
			fmt.Fprintln(os.Stderr, "stopping...")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.orch.Stop(stopCtx)
			stopCancel()
			if errors.Is(err, orchestrator.ErrNotRunning) {
				return nil
			}
			if err != nil {
				return err
			}
			grace = time.After(10 * time.Second)

		case <-grace:
			return nil

		case <-sub.Done():
			fmt.Fprintln(os.Stderr, "another observer attached; waiting for the session to end")
			return waitEnded(ctx, s)

		case env := <-sub.Events():
			fmt.Print(r.Event(env))
			if done, err := ended(env); done {
				return err
			}
		}
	}
}

// ended reports whether env closes the session, with its error if any.
func ended(env *protocol.Envelope) (bool, error) {
	switch env.Type {
	case protocol.MsgDebateComplete:
		return true, nil
	case protocol.MsgDebateError:
		p, err := protocol.As[protocol.ErrorPayload](env)
		if err != nil {
			return true, err
		}
		return true, errors.New(p.Error)
	}
	return false, nil
}

// waitEnded polls the orchestrator until the session leaves the active states.
func waitEnded(ctx context.Context, s *stack) error {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			snap, err := s.orch.Status(ctx)
			if err != nil {
				return err
			}
			if !snap.Status.Active() {
				return nil
			}
		}
	}
}
