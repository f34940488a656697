package orchestrator

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/prompt"
	"github.com/joss/clash/internal/protocol"
)

// Everything in this file runs on the actor goroutine. Every mutation is
// followed by persist and only then by emit.

const interruptedMessage = "interrupted: orchestrator restarted"

func (o *Orchestrator) setStatus(to domain.Status) {
	from := domain.StatusIdle
	if o.sess != nil {
		from = o.sess.Status
	}
	if !domain.CanTransition(from, to) {
		o.log.Warn("unexpected_transition", map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		}, nil)
	}
	o.sess.Status = to
}

func (o *Orchestrator) start(p Params) error {
	o.supersede()

	now := time.Now().UTC()
	container := o.opts.ContainerID
	s := &domain.Session{
		SchemaVersion: domain.SchemaVersion,
		ID:            ulid.Make().String(),
		Status:        domain.StatusIdle,
		Topic:         p.Topic,
		RoundLimit:    p.RoundLimit,
		Mode:          p.Mode,
		LeftAgentID:   p.LeftAgentID,
		RightAgentID:  p.RightAgentID,
		LeftPersona:   p.LeftPersona,
		RightPersona:  p.RightPersona,
		LeftModel:     p.LeftModel,
		RightModel:    p.RightModel,
		Setting:       p.Setting,
		AutoEnd:       p.AutoEnd,
		ContainerID:   container,
		NextSpeaker:   domain.Left,
		Transcript:    []domain.Turn{},
		StartedAt:     now,
	}
	o.sess = s
	o.log = logging.New("orchestrator").WithSession(s.ID)
	o.setStatus(domain.StatusPreparing)
	o.persist()
	o.startKeepAlive()
	o.opts.Metrics.SessionStarted()

	o.log.Info("session_started", map[string]interface{}{
		"topic":       s.Topic,
		"mode":        string(s.Mode),
		"left":        s.LeftAgentID,
		"right":       s.RightAgentID,
		"round_limit": s.RoundLimit,
		"auto_end":    s.AutoEnd,
	})

	o.prepare(false)
	return nil
}

// supersede retires whatever the previous session was doing.
func (o *Orchestrator) supersede() {
	if o.sess == nil {
		return
	}
	if o.sess.Status.Active() {
		o.log.Info("session_superseded", nil)
		o.setStatus(domain.StatusStopped)
		o.sess.EndReason = domain.EndStopped
		o.persist()
		o.opts.Metrics.SessionEnded(domain.StatusStopped, domain.EndStopped)
		o.announceEnd()
	} else if o.pendingStop {
		o.announceEnd()
	}
	o.pendingStop = false
	o.abortStep()
	o.stopKeepAlive()
}

// prepare launches handle resolution and readiness for the current session.
func (o *Orchestrator) prepare(resume bool) {
	s := o.sess
	container := s.ContainerID
	if container == "" {
		container = o.opts.ContainerID
	}
	job := prepareJob{
		container: container,
		left:      s.LeftAgentID,
		right:     s.RightAgentID,
		handles:   o.cache.get(container, s.LeftAgentID, s.RightAgentID),
		resume:    resume,
		started:   time.Now(),
		log:       o.log,
	}
	if !resume {
		job.leftModel, job.rightModel = s.LeftModel, s.RightModel
	}

	o.launch("prepare", func(ctx context.Context) func() {
		h, err := o.runPrepare(ctx, job)
		return func() { o.prepared(job, h, err) }
	})
}

func (o *Orchestrator) prepared(job prepareJob, h agent.Handles, err error) {
	if err != nil {
		o.fail(err)
		return
	}
	o.cache = handleCache{container: job.container, left: job.left, right: job.right, handles: h}
	o.opts.Metrics.RecordPrepare(time.Since(job.started))

	o.setStatus(domain.StatusDebating)
	if job.resume {
		o.persist()
		o.resumeRound()
		return
	}
	o.sess.CurrentRound = 1
	o.persist()
	o.advance()
}

// advance schedules the next speaker or ends the session at the round limit.
func (o *Orchestrator) advance() {
	s := o.sess
	limit := s.EffectiveLimit(o.opts.SafetyCap)
	side := s.NextSpeaker

	if side == domain.Left && s.RoundsCompleted() >= s.CurrentRound {
		if s.CurrentRound+1 > limit {
			o.finish(domain.EndRoundLimit)
			return
		}
		s.CurrentRound++
		o.persist()
	}

	a := o.cache.handles.Get(side)
	if a == nil {
		o.fail(&ResolutionError{Agent: s.AgentID(side)})
		return
	}

	kind := prompt.Followup
	if s.CurrentRound == 1 {
		kind = prompt.Opening
		if side == domain.Right {
			kind = prompt.OpeningWithContext
		}
	}
	opponentText, _ := s.LastText(side.Other())

	text, err := prompt.Build(kind, prompt.Request{
		Mode:         s.Mode,
		Side:         side,
		Topic:        s.Topic,
		Self:         agent.Name(s.AgentID(side)),
		Opponent:     agent.Name(s.AgentID(side.Other())),
		OpponentText: opponentText,
		Round:        s.CurrentRound,
		Turn:         s.NextTurnNumber(),
		RoundLimit:   limit,
		Persona:      s.Persona(side),
		Setting:      s.Setting,
		AutoEnd:      s.AutoEnd,
	})
	if err != nil {
		o.fail(err)
		return
	}

	if side == domain.Left {
		o.emitUpdate(protocol.PhaseLeftThinking, "", "")
	}

	o.log.Debug("turn_started", map[string]interface{}{
		"round": s.CurrentRound,
		"side":  string(side),
		"turn":  s.NextTurnNumber(),
		"kind":  kind.String(),
	})
	o.launch("turn", func(ctx context.Context) func() {
		started := time.Now()
		raw, ok, op, err := speak(ctx, a, text)
		took := time.Since(started)
		return func() { o.spoke(side, raw, ok, op, err, took) }
	})
}

// spoke records one agent reply.
func (o *Orchestrator) spoke(side domain.Side, raw string, ok bool, op string, err error, took time.Duration) {
	s := o.sess
	o.opts.Metrics.RecordTurn(err == nil && ok, took)
	if err != nil {
		o.fail(&AdapterError{Side: side, Op: op, Err: err})
		return
	}
	if !ok {
		o.fail(&AdapterError{Side: side, Op: opGetLatestResponse, Err: ErrNoResponse})
		return
	}

	natural := prompt.HasSentinel(raw)
	turn := domain.Turn{
		Round:     s.CurrentRound,
		Side:      side,
		SpeakerID: s.AgentID(side),
		Text:      prompt.StripSentinel(raw),
		At:        time.Now().UTC(),
	}
	s.Transcript = append(s.Transcript, turn)
	s.NextSpeaker = side.Other()
	o.persist()

	o.log.Info("turn_completed", map[string]interface{}{
		"round":       turn.Round,
		"side":        string(side),
		"chars":       len(turn.Text),
		"natural_end": natural,
		"duration_ms": took.Milliseconds(),
	})

	if side == domain.Left {
		if !natural {
			o.emitUpdate(protocol.PhaseRightThinking, turn.Text, "")
		}
	} else {
		left, _ := s.LastText(domain.Left)
		o.emitUpdate(protocol.PhaseComplete, left, turn.Text)
	}

	if natural {
		if side == domain.Left {
			partial := turn
			s.PartialTurn = &partial
		}
		o.finish(domain.EndNatural)
		return
	}
	o.advance()
}

func (o *Orchestrator) emitUpdate(phase protocol.Phase, left, right string) {
	s := o.sess
	o.emit(protocol.MsgDebateUpdate, &protocol.UpdatePayload{
		Round:         s.CurrentRound,
		Phase:         phase,
		LeftAgentID:   s.LeftAgentID,
		RightAgentID:  s.RightAgentID,
		LeftResponse:  left,
		RightResponse: right,
		RoundLimit:    s.RoundLimit,
	})
}

// finish completes the session with reason.
func (o *Orchestrator) finish(reason domain.EndReason) {
	o.setStatus(domain.StatusCompleted)
	o.sess.EndReason = reason
	o.persist()
	o.stopKeepAlive()
	o.opts.Metrics.SessionEnded(domain.StatusCompleted, reason)
	o.log.Info("session_completed", map[string]interface{}{
		"reason": string(reason),
		"turns":  len(o.sess.Transcript),
	})
	o.announceEnd()
}

// announceEnd archives the session and emits DEBATE_COMPLETE.
func (o *Orchestrator) announceEnd() {
	s := o.sess
	o.archive()
	o.emit(protocol.MsgDebateComplete, &protocol.CompletePayload{
		Transcript:  append([]domain.Turn{}, s.Transcript...),
		Reason:      s.EndReason,
		PartialTurn: s.PartialTurn,
	})
}

// fail moves the session to error. The transcript is kept; cached handles
// are dropped so the next start locates the agents again.
func (o *Orchestrator) fail(err error) {
	if o.sess == nil {
		return
	}
	o.cache = handleCache{}
	o.setStatus(domain.StatusError)
	o.sess.Error = err.Error()
	o.persist()
	o.stopKeepAlive()
	o.opts.Metrics.SessionEnded(domain.StatusError, "")
	o.archive()
	o.log.Error("session_failed", map[string]interface{}{
		"turns": len(o.sess.Transcript),
	}, err)
	o.emit(protocol.MsgDebateError, &protocol.ErrorPayload{Error: err.Error()})
}

func (o *Orchestrator) stop() error {
	if o.sess == nil || !o.sess.Status.Active() {
		return ErrNotRunning
	}
	o.setStatus(domain.StatusStopped)
	o.sess.EndReason = domain.EndStopped
	o.persist()
	o.stopKeepAlive()
	o.opts.Metrics.SessionEnded(domain.StatusStopped, domain.EndStopped)
	o.log.Info("session_stopped", map[string]interface{}{"in_flight": o.inFlight})

	if o.inFlight {
		o.pendingStop = true
		return nil
	}
	o.announceEnd()
	return nil
}

func (o *Orchestrator) resume() error {
	s := o.sess
	if s == nil || !s.Resumable() {
		return ErrCannotResume
	}
	s.EndReason = ""
	s.PartialTurn = nil
	s.Error = ""
	o.startKeepAlive()
	o.opts.Metrics.SessionResumed()

	container := s.ContainerID
	if container == "" {
		container = o.opts.ContainerID
	}
	o.log.Info("session_resumed", map[string]interface{}{
		"next_speaker": string(s.NextSpeaker),
		"round":        s.CurrentRound,
	})

	if o.cache.get(container, s.LeftAgentID, s.RightAgentID).Complete() {
		o.setStatus(domain.StatusDebating)
		o.persist()
		o.resumeRound()
		return nil
	}

	o.setStatus(domain.StatusPreparing)
	o.persist()
	o.prepare(true)
	return nil
}

// resumeRound finishes an interrupted round before the normal loop continues.
func (o *Orchestrator) resumeRound() {
	if o.sess.NextSpeaker == domain.Right {
		left, _ := o.sess.LastText(domain.Left)
		o.emitUpdate(protocol.PhaseRightThinking, left, "")
	}
	o.advance()
}

func (o *Orchestrator) reset() error {
	if o.sess != nil && o.sess.Status.Active() {
		return ErrActive
	}
	if o.pendingStop {
		o.pendingStop = false
		o.announceEnd()
	}
	o.abortStep()
	o.sess = nil
	o.log = logging.New("orchestrator")

	ctx, cancel := context.WithTimeout(o.baseCtx, persistTimeout)
	defer cancel()
	if err := o.state.ClearState(ctx); err != nil {
		o.log.Error("clear_state_failed", nil, err)
	}
	o.log.Info("session_reset", nil)
	o.emit(protocol.MsgStatus, o.snapshot())
	return nil
}

func (o *Orchestrator) preload(left, right string) error {
	if o.sess != nil && o.sess.Status.Active() {
		return ErrActive
	}
	o.preloadSeq++
	seq := o.preloadSeq
	container := o.opts.ContainerID
	log := o.log

	logging.SafeGo("orchestrator-preload", func() {
		o.runPreload(o.baseCtx, seq, container, left, right, log)
	})
	return nil
}

// preloaded caches handles found by a preload unless a session took over.
func (o *Orchestrator) preloaded(seq uint64, container, left, right string, h agent.Handles) {
	if seq != o.preloadSeq || (o.sess != nil && o.sess.Status.Active()) {
		return
	}
	o.cache = handleCache{container: container, left: left, right: right, handles: h}
}
