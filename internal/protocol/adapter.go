package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/logging"
)

// ErrClientClosed is returned for calls on a client whose stream ended.
var ErrClientClosed = errors.New("adapter connection closed")

// RemoteError is an adapter failure reported over the wire.
type RemoteError struct {
	Op      MessageType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ─────────────────────────────────────────────────────────────────────────────
// Adapter side
// ─────────────────────────────────────────────────────────────────────────────

// ServeAdapter answers adapter requests read from r by invoking a, one at a time,
// and writes ADAPTER_REPLY envelopes to w. It returns nil when r is exhausted.
func ServeAdapter(ctx context.Context, a agent.Adapter, r io.Reader, w io.Writer) error {
	enc := NewEncoder(w)
	dec := NewDecoder(r)
	log := logging.New("adapter-server")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := dec.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}

		reply := dispatch(ctx, a, env)
		if !reply.Success {
			log.Warn("request_failed", map[string]interface{}{"type": string(env.Type)}, errors.New(reply.Error))
		}

		out := NewEnvelope(MsgAdapterReply, reply)
		out.ID = env.ID
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode reply: %w", err)
		}
	}
}

func dispatch(ctx context.Context, a agent.Adapter, env *Envelope) *AdapterReply {
	fail := func(err error) *AdapterReply {
		return &AdapterReply{Success: false, Error: err.Error()}
	}

	switch env.Type {
	case MsgIsReady:
		ready, err := a.IsReady(ctx)
		if err != nil {
			return fail(err)
		}
		return &AdapterReply{Success: true, Ready: ready}

	case MsgSendMessage:
		p, err := As[SendMessagePayload](env)
		if err != nil {
			return fail(err)
		}
		if err := a.SendMessage(ctx, p.Text); err != nil {
			return fail(err)
		}
		return &AdapterReply{Success: true}

	case MsgWaitForResponse:
		if err := a.WaitForResponseComplete(ctx); err != nil {
			return fail(err)
		}
		text, ok, err := a.GetLatestResponse(ctx)
		if err != nil {
			return fail(err)
		}
		return &AdapterReply{Success: true, Response: text, HasResponse: ok}

	case MsgGetLatestResponse:
		text, ok, err := a.GetLatestResponse(ctx)
		if err != nil {
			return fail(err)
		}
		return &AdapterReply{Success: true, Response: text, HasResponse: ok}

	case MsgGetAvailableModels:
		models, err := a.GetAvailableModels(ctx)
		if err != nil {
			return fail(err)
		}
		if models == nil {
			models = []domain.Model{}
		}
		return &AdapterReply{Success: true, Models: models}

	case MsgSelectModel:
		p, err := As[SelectModelPayload](env)
		if err != nil {
			return fail(err)
		}
		if err := a.SelectModel(ctx, p.ModelID); err != nil {
			return fail(err)
		}
		return &AdapterReply{Success: true}

	default:
		return fail(fmt.Errorf("unknown message type: %s", env.Type))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Orchestrator side
// ─────────────────────────────────────────────────────────────────────────────

// AdapterClient drives a remote adapter and implements agent.Adapter.
type AdapterClient struct {
	enc *Encoder

	mu      sync.Mutex
	pending map[string]chan *AdapterReply
	err     error
	done    chan struct{}
}

var _ agent.Adapter = (*AdapterClient)(nil)

// NewAdapterClient starts reading replies from r; requests are written to w.
func NewAdapterClient(r io.Reader, w io.Writer) *AdapterClient {
	c := &AdapterClient{
		enc:     NewEncoder(w),
		pending: make(map[string]chan *AdapterReply),
		done:    make(chan struct{}),
	}
	logging.SafeGo("adapter-client", func() { c.readLoop(NewDecoder(r)) })
	return c
}

func (c *AdapterClient) readLoop(dec *Decoder) {
	var loopErr error
	defer func() {
		c.mu.Lock()
		if loopErr == nil || loopErr == io.EOF {
			loopErr = ErrClientClosed
		}
		c.err = loopErr
		c.pending = nil
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		env, err := dec.Decode()
		if err != nil {
			loopErr = err
			return
		}
		if env.Type != MsgAdapterReply {
			continue
		}
		reply, err := As[AdapterReply](env)
		if err != nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if ok {
			ch <- reply
		}
	}
}

// Done is closed once the reply stream ends.
func (c *AdapterClient) Done() <-chan struct{} { return c.done }

func (c *AdapterClient) call(ctx context.Context, msgType MessageType, payload any) (*AdapterReply, error) {
	env := NewEnvelope(msgType, payload)
	ch := make(chan *AdapterReply, 1)

	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[env.ID] = ch
	c.mu.Unlock()

	if err := c.enc.Encode(env); err != nil {
		c.forget(env.ID)
		return nil, fmt.Errorf("send %s: %w", msgType, err)
	}

	select {
	case reply := <-ch:
		if !reply.Success {
			return nil, &RemoteError{Op: msgType, Message: reply.Error}
		}
		return reply, nil
	case <-c.done:
		return nil, fmt.Errorf("%s: %w", msgType, ErrClientClosed)
	case <-ctx.Done():
		c.forget(env.ID)
		return nil, ctx.Err()
	}
}

func (c *AdapterClient) forget(id string) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// IsReady implements agent.Adapter.
func (c *AdapterClient) IsReady(ctx context.Context) (bool, error) {
	reply, err := c.call(ctx, MsgIsReady, nil)
	if err != nil {
		return false, err
	}
	return reply.Ready, nil
}

// SendMessage implements agent.Adapter.
func (c *AdapterClient) SendMessage(ctx context.Context, text string) error {
	_, err := c.call(ctx, MsgSendMessage, &SendMessagePayload{Text: text})
	return err
}

// WaitForResponseComplete implements agent.Adapter.
func (c *AdapterClient) WaitForResponseComplete(ctx context.Context) error {
	_, err := c.call(ctx, MsgWaitForResponse, nil)
	return err
}

// WaitForResponse waits and returns the settled reply in one round trip.
func (c *AdapterClient) WaitForResponse(ctx context.Context) (string, bool, error) {
	reply, err := c.call(ctx, MsgWaitForResponse, nil)
	if err != nil {
		return "", false, err
	}
	return reply.Response, reply.HasResponse, nil
}

// GetLatestResponse implements agent.Adapter.
func (c *AdapterClient) GetLatestResponse(ctx context.Context) (string, bool, error) {
	reply, err := c.call(ctx, MsgGetLatestResponse, nil)
	if err != nil {
		return "", false, err
	}
	return reply.Response, reply.HasResponse, nil
}

// GetAvailableModels implements agent.Adapter.
func (c *AdapterClient) GetAvailableModels(ctx context.Context) ([]domain.Model, error) {
	reply, err := c.call(ctx, MsgGetAvailableModels, nil)
	if err != nil {
		return nil, err
	}
	return reply.Models, nil
}

// SelectModel implements agent.Adapter.
func (c *AdapterClient) SelectModel(ctx context.Context, id string) error {
	_, err := c.call(ctx, MsgSelectModel, &SelectModelPayload{ModelID: id})
	return err
}
