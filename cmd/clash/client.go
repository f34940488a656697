package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/prompt"
	"github.com/joss/clash/internal/protocol"
	"github.com/joss/clash/internal/render"
	"github.com/joss/clash/internal/tui"
)

// apiClient talks to a running 'clash serve'.
type apiClient struct {
	base string
	http *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		base: "http://" + serverAddr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// command posts one command envelope and returns the reply payload.
func (c *apiClient) command(ctx context.Context, t protocol.MessageType, payload any) (*protocol.CommandReply, error) {
	body, err := json.Marshal(protocol.NewEnvelope(t, payload))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/commands", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", logging.NewRequestID())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator not reachable at %s (is 'clash serve' running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	var reply protocol.CommandReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode reply (%s): %w", resp.Status, err)
	}
	if !reply.Success {
		return &reply, errors.New(reply.Error)
	}
	return &reply, nil
}

func (c *apiClient) status(ctx context.Context) (protocol.StatusPayload, error) {
	var snap protocol.StatusPayload
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/status", nil)
	if err != nil {
		return snap, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return snap, fmt.Errorf("orchestrator not reachable at %s (is 'clash serve' running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var reply protocol.CommandReply
		_ = json.NewDecoder(resp.Body).Decode(&reply)
		return snap, fmt.Errorf("status: %s %s", resp.Status, reply.Error)
	}
	err = json.NewDecoder(resp.Body).Decode(&snap)
	return snap, err
}

// errDetached reports that the server closed the stream for a newer observer.
var errDetached = errors.New("detached: another observer took over")

// stream delivers decoded events to fn until ctx ends (nil) or the server
// closes the stream (errDetached).
func (c *apiClient) stream(ctx context.Context, fn func(*protocol.Envelope)) error {
	client := sse.NewClient(c.base + "/api/events")
	client.Headers["X-Request-ID"] = logging.NewRequestID()

	err := client.SubscribeWithContext(ctx, "", func(msg *sse.Event) {
		if string(msg.Event) == "heartbeat" || len(msg.Data) == 0 {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		fn(&env)
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return errDetached
}

// follow prints the event stream. With untilEnd it returns once the session
// completes or fails; otherwise it runs until the stream is taken over.
func (c *apiClient) follow(ctx context.Context, r *render.Renderer, untilEnd bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result error
	first := true
	err := c.stream(ctx, func(env *protocol.Envelope) {
		fmt.Print(r.Event(env))

		snapshot := first && env.Type == protocol.MsgStatus
		first = false
		if !untilEnd {
			return
		}
		if snapshot {
			if p, err := protocol.As[protocol.StatusPayload](env); err == nil && p.Status.Terminal() {
				cancel()
			}
			return
		}
		if done, err := ended(env); done {
			result = err
			cancel()
		}
	})
	if errors.Is(err, errDetached) {
		fmt.Fprintln(os.Stderr, err)
		return nil
	}
	if err != nil {
		return err
	}
	return result
}

// Stop asks the orchestrator to stop the active session.
func (c *apiClient) Stop(ctx context.Context) error {
	_, err := c.command(ctx, protocol.MsgStopDebate, nil)
	return err
}

// Continue asks the orchestrator to resume the last session.
func (c *apiClient) Continue(ctx context.Context) error {
	_, err := c.command(ctx, protocol.MsgContinueDebate, nil)
	return err
}

// checkStart validates a start request before it leaves the CLI.
func checkStart(p *protocol.StartPayload) error {
	if p.Topic == "" {
		return errors.New("--topic is required")
	}
	ids := make([]string, 0, len(agent.All()))
	for _, info := range agent.All() {
		ids = append(ids, string(info.ID))
	}
	for _, id := range []string{p.LeftAgentID, p.RightAgentID} {
		if _, err := agent.Lookup(id); err != nil {
			return withSuggestion(err, id, ids)
		}
	}

	if !prompt.ValidMode(p.Mode) {
		modes := make([]string, 0, len(prompt.Modes()))
		for _, m := range prompt.Modes() {
			modes = append(modes, string(m.Mode))
		}
		return withSuggestion(fmt.Errorf("unknown mode %q", p.Mode), string(p.Mode), modes)
	}
	if p.RoundLimit < 0 {
		return errors.New("--rounds must not be negative")
	}
	return nil
}

// withSuggestion appends the closest candidate to err, if any matches.
func withSuggestion(err error, input string, candidates []string) error {
	matches := fuzzy.Find(input, candidates)
	if len(matches) == 0 {
		return err
	}
	return fmt.Errorf("%w (did you mean %q?)", err, matches[0].Str)
}

func remoteRunCmd() *cobra.Command {
	var p protocol.StartPayload

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session on the running orchestrator and follow it",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := newClient()
			if _, err := c.command(ctx, protocol.MsgStartDebate, &p); err != nil {
				exitOnError(err)
			}

			err := c.follow(ctx, newRenderer(), true)
			if ctx.Err() != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				if _, err := c.command(stopCtx, protocol.MsgStopDebate, nil); err != nil {
					exitOnError(err)
				}
				fmt.Fprintln(os.Stderr, "stopped")
				return
			}
			if err != nil {
				exitOnError(err)
			}
		},
	}

	startFlags(cmd, &p)
	return cmd
}

func attachCmd() *cobra.Command {
	var useTUI bool

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Follow the running orchestrator's events",
		Long:  "Attach as the single observer. A later attach takes over and ends this one.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := newClient()
			if useTUI {
				if err := tui.Run(ctx, c, c.stream); err != nil {
					exitOnError(err)
				}
				return
			}
			if err := c.follow(ctx, newRenderer(), false); err != nil {
				exitOnError(err)
			}
		},
	}

	cmd.Flags().BoolVar(&useTUI, "tui", false, "Full-screen viewer with stop/continue keys")
	return cmd
}

func statusCmd() *cobra.Command {
	var transcript bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Run: func(cmd *cobra.Command, args []string) {
			snap, err := newClient().status(cmd.Context())
			if err != nil {
				exitOnError(err)
			}
			r := newRenderer()
			fmt.Print(r.Status(snap))
			if transcript {
				fmt.Print(r.Transcript(snap.Transcript))
			}
		},
	}

	cmd.Flags().BoolVar(&transcript, "transcript", false, "Also print the transcript")
	return cmd
}

// simpleCommand builds a command that posts t without payload.
func simpleCommand(use, short string, t protocol.MessageType, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := newClient().command(cmd.Context(), t, nil); err != nil {
				exitOnError(err)
			}
			fmt.Println(done)
		},
	}
}

func stopCmd() *cobra.Command {
	return simpleCommand("stop", "Stop the active session", protocol.MsgStopDebate, "stopped")
}

func continueCmd() *cobra.Command {
	return simpleCommand("continue", "Resume a stopped, failed or completed session", protocol.MsgContinueDebate, "resumed")
}

func resetCmd() *cobra.Command {
	return simpleCommand("reset", "Discard the current session", protocol.MsgReset, "reset")
}

func preloadCmd() *cobra.Command {
	var p protocol.PreloadPayload

	cmd := &cobra.Command{
		Use:   "preload",
		Short: "Open both agents and list their models without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range []string{p.LeftAgentID, p.RightAgentID} {
				if _, err := agent.Lookup(id); err != nil {
					return err
				}
			}
			if _, err := newClient().command(cmd.Context(), protocol.MsgPreload, &p); err != nil {
				return err
			}
			fmt.Printf("preloading %s and %s; model lists arrive on 'clash attach'\n",
				agent.Name(p.LeftAgentID), agent.Name(p.RightAgentID))
			return nil
		},
	}

	cmd.Flags().StringVar(&p.LeftAgentID, "left", string(agent.DefaultLeft), "Left agent")
	cmd.Flags().StringVar(&p.RightAgentID, "right", string(agent.DefaultRight), "Right agent")
	return cmd
}
