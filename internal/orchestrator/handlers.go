package orchestrator

import (
	"context"
	"fmt"

	"github.com/joss/clash/internal/protocol"
)

// ParamsFromPayload converts a START_DEBATE payload.
func ParamsFromPayload(p *protocol.StartPayload) Params {
	return Params{
		Topic:        p.Topic,
		RoundLimit:   p.RoundLimit,
		LeftAgentID:  p.LeftAgentID,
		RightAgentID: p.RightAgentID,
		Mode:         p.Mode,
		AutoEnd:      p.AutoEnd,
		LeftPersona:  p.LeftPersona,
		RightPersona: p.RightPersona,
		Setting:      p.Setting,
		LeftModel:    p.LeftModel,
		RightModel:   p.RightModel,
	}
}

// Handle executes one view command. GET_STATUS answers with the snapshot;
// other commands answer with nil on success.
func (o *Orchestrator) Handle(ctx context.Context, env *protocol.Envelope) (any, error) {
	switch env.Type {
	case protocol.MsgStartDebate:
		p, err := protocol.As[protocol.StartPayload](env)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return nil, o.Start(ctx, ParamsFromPayload(p))

	case protocol.MsgStopDebate:
		return nil, o.Stop(ctx)

	case protocol.MsgContinueDebate:
		return nil, o.Continue(ctx)

	case protocol.MsgGetStatus:
		snap, err := o.Status(ctx)
		if err != nil {
			return nil, err
		}
		return &snap, nil

	case protocol.MsgPreload:
		p, err := protocol.As[protocol.PreloadPayload](env)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return nil, o.Preload(ctx, p.LeftAgentID, p.RightAgentID)

	case protocol.MsgReset:
		return nil, o.Reset(ctx)

	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidParams, env.Type)
	}
}

// Reply wraps a Handle result for the wire.
func Reply(payload any, err error) *protocol.CommandReply {
	if err != nil {
		return &protocol.CommandReply{Success: false, Error: err.Error()}
	}
	return &protocol.CommandReply{Success: true, Payload: payload}
}
