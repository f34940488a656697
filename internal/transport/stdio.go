package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/orchestrator"
	"github.com/joss/clash/internal/protocol"
)

// ServeStdio reads commands from r as JSON lines and writes COMMAND_REPLY
// envelopes and events to w. It attaches to hub for its lifetime and returns
// nil when r is exhausted.
func ServeStdio(ctx context.Context, cmd Commander, hub *Hub, r io.Reader, w io.Writer) error {
	log := logging.New("stdio")
	enc := protocol.NewEncoder(w)
	dec := protocol.NewDecoder(r)

	sub := hub.Attach()
	if snap, err := cmd.Status(ctx); err == nil {
		if err := enc.Send(protocol.MsgStatus, &snap); err != nil {
			hub.Detach(sub)
			return fmt.Errorf("write snapshot: %w", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	logging.SafeGo("stdio-events", func() {
		defer wg.Done()
		for {
			select {
			case <-sub.Done():
				return
			case env := <-sub.Events():
				if err := enc.Encode(env); err != nil {
					log.Warn("event_write_failed", map[string]interface{}{"type": string(env.Type)}, err)
				}
			}
		}
	})
	defer func() {
		hub.Detach(sub)
		wg.Wait()
	}()

	reply := func(id string, payload any, err error) error {
		out := protocol.NewEnvelope(protocol.MsgCommandReply, orchestrator.Reply(payload, err))
		if id != "" {
			out.ID = id
		}
		return enc.Encode(out)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		env, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var syntax *json.SyntaxError
			var typ *json.UnmarshalTypeError
			if !errors.As(err, &syntax) && !errors.As(err, &typ) {
				return fmt.Errorf("read command: %w", err)
			}
			if err := reply("", nil, fmt.Errorf("%w: %v", orchestrator.ErrInvalidParams, err)); err != nil {
				return err
			}
			continue
		}

		if !env.Type.IsCommand() {
			err := fmt.Errorf("%w: not a command: %q", orchestrator.ErrInvalidParams, env.Type)
			if err := reply(env.ID, nil, err); err != nil {
				return err
			}
			continue
		}

		payload, err := cmd.Handle(ctx, env)
		if err != nil {
			log.Warn("command_rejected", map[string]interface{}{"type": string(env.Type)}, err)
		}
		if err := reply(env.ID, payload, err); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}
