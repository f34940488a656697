// Package orchestrator runs debate sessions between two chat agents.
// A single actor goroutine owns the Session and is its only mutator. Adapter
// work runs one step at a time on a runner goroutine and reports back over a
// channel, so Status and Stop are answered while an agent is still typing.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/config"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/metrics"
	"github.com/joss/clash/internal/prompt"
	"github.com/joss/clash/internal/protocol"
	"github.com/joss/clash/internal/store"
)

// Locator resolves the agents hosted by a container page.
type Locator interface {
	// Locate returns a handle per side. A nil handle means the agent's frame was
	// not found within retries attempts.
	Locate(ctx context.Context, containerID string, left, right agent.ID, retries int) (agent.Handles, error)
}

// Emitter receives every event. Implementations must not block.
type Emitter interface {
	Emit(env *protocol.Envelope)
}

type nopEmitter struct{}

func (nopEmitter) Emit(*protocol.Envelope) {}

// Toucher is implemented by state stores that keep a liveness heartbeat.
type Toucher interface {
	Touch(ctx context.Context) error
}

// Poll is a bounded polling budget.
type Poll struct {
	Retries  int
	Interval time.Duration
}

// Options configures an Orchestrator.
type Options struct {
	// ContainerID identifies the page hosting both agents
	ContainerID string
	// SafetyCap bounds sessions started without a round limit
	SafetyCap      int
	LocatorRetries int
	Ready          Poll
	// PreloadReadyRetries replaces Ready.Retries while preloading
	PreloadReadyRetries int
	// ModelSettle is the pause after a successful model switch
	ModelSettle time.Duration
	// KeepAlive is the cron spec of the heartbeat run while a session is active
	KeepAlive string

	History store.HistoryStore
	Emitter Emitter
	// Metrics defaults to the process-wide counters
	Metrics *metrics.Metrics
}

// DefaultOptions returns the stock budgets.
func DefaultOptions() Options {
	return Options{
		SafetyCap:           50,
		LocatorRetries:      15,
		Ready:               Poll{Retries: 30, Interval: 2 * time.Second},
		PreloadReadyRetries: 20,
		ModelSettle:         500 * time.Millisecond,
		KeepAlive:           "@every 24s",
	}
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config, containerID string) Options {
	return Options{
		ContainerID:         containerID,
		SafetyCap:           cfg.Orchestrator.SafetyCap,
		LocatorRetries:      cfg.Locator.Retries,
		Ready:               Poll{Retries: cfg.Ready.Retries, Interval: cfg.Ready.Interval},
		PreloadReadyRetries: cfg.Orchestrator.PreloadReadyRetries,
		ModelSettle:         cfg.Orchestrator.ModelSettle,
		KeepAlive:           cfg.Orchestrator.KeepAlive,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SafetyCap <= 0 {
		o.SafetyCap = d.SafetyCap
	}
	if o.LocatorRetries <= 0 {
		o.LocatorRetries = d.LocatorRetries
	}
	if o.Ready.Retries <= 0 {
		o.Ready.Retries = d.Ready.Retries
	}
	if o.Ready.Interval <= 0 {
		o.Ready.Interval = d.Ready.Interval
	}
	if o.PreloadReadyRetries <= 0 {
		o.PreloadReadyRetries = d.PreloadReadyRetries
	}
	if o.ModelSettle < 0 {
		o.ModelSettle = 0
	}
	if o.KeepAlive == "" {
		o.KeepAlive = d.KeepAlive
	}
	if o.Emitter == nil {
		o.Emitter = nopEmitter{}
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Global()
	}
	return o
}

// Params starts a session.
type Params struct {
	Topic        string
	RoundLimit   int
	LeftAgentID  string
	RightAgentID string
	Mode         domain.Mode
	AutoEnd      bool
	LeftPersona  string
	RightPersona string
	Setting      string
	LeftModel    string
	RightModel   string
}

func (p *Params) normalize() error {
	p.Topic = strings.TrimSpace(p.Topic)
	p.LeftAgentID = strings.ToLower(strings.TrimSpace(p.LeftAgentID))
	p.RightAgentID = strings.ToLower(strings.TrimSpace(p.RightAgentID))
	if p.LeftAgentID == "" {
		p.LeftAgentID = string(agent.DefaultLeft)
	}
	if p.RightAgentID == "" {
		p.RightAgentID = string(agent.DefaultRight)
	}
	if p.Mode == "" {
		p.Mode = domain.ModeDebate
	}

	if p.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidParams)
	}
	if p.RoundLimit < 0 {
		return fmt.Errorf("%w: round limit must not be negative", ErrInvalidParams)
	}
	for _, id := range []string{p.LeftAgentID, p.RightAgentID} {
		if _, err := agent.Lookup(id); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if !prompt.ValidMode(p.Mode) {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidParams, p.Mode)
	}
	return nil
}

// stepResult carries the outcome of a runner step back to the actor.
type stepResult struct {
	epoch uint64
	apply func()
}

// Orchestrator drives one session at a time.
type Orchestrator struct {
	opts    Options
	locator Locator
	state   store.StateStore
	emitter Emitter
	cron    *cron.Cron

	calls   chan func()
	results chan stepResult
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// owned by the actor goroutine
	log         *logging.Logger
	sess        *domain.Session
	cache       handleCache
	epoch       uint64
	cancelStep  context.CancelFunc
	inFlight    bool
	pendingStop bool
	preloadSeq  uint64
	keepAliveID cron.EntryID
}

// handleCache remembers which agents the cached handles are bound to.
type handleCache struct {
	container   string
	left, right string
	handles     agent.Handles
}

// get returns the cached handles still valid for the given binding.
func (c handleCache) get(container, left, right string) agent.Handles {
	var h agent.Handles
	if c.container != container {
		return h
	}
	if c.left == left {
		h.Left = c.handles.Left
	}
	if c.right == right {
		h.Right = c.handles.Right
	}
	return h
}

// New restores the persisted session, if any, and starts the actor.
func New(loc Locator, st store.StateStore, opts Options) (*Orchestrator, error) {
	opts = opts.withDefaults()
	if _, err := cron.ParseStandard(opts.KeepAlive); err != nil {
		return nil, fmt.Errorf("keepalive schedule %q: %w", opts.KeepAlive, err)
	}

	o := &Orchestrator{
		opts:    opts,
		locator: loc,
		state:   st,
		emitter: opts.Emitter,
		cron:    cron.New(),
		calls:   make(chan func()),
		results: make(chan stepResult),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     logging.New("orchestrator"),
	}
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())

	ctx, cancel := context.WithTimeout(o.baseCtx, persistTimeout)
	defer cancel()
	if err := o.restore(ctx); err != nil {
		o.baseCancel()
		return nil, err
	}

	o.cron.Start()
	logging.SafeGo("orchestrator", o.loop)
	return o, nil
}

func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case fn := <-o.calls:
			fn()
		case r := <-o.results:
			o.handleResult(r)
		case <-o.quit:
			if o.cancelStep != nil {
				o.cancelStep()
			}
			return
		}
	}
}

// Close stops the actor and cancels any in-flight step. The persisted record is
// left as is, so an active session restores as interrupted.
func (o *Orchestrator) Close() error {
	o.once.Do(func() {
		close(o.quit)
		<-o.done
		o.baseCancel()
		<-o.cron.Stop().Done()
	})
	return nil
}

// exec runs fn on the actor and waits for it.
func (o *Orchestrator) exec(ctx context.Context, fn func() error) error {
	var err error
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		err = fn()
	}

	select {
	case o.calls <- wrapped:
	case <-o.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return err
	case <-o.done:
		return ErrClosed
	}
}

// post queues fn for the actor without waiting.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.calls <- fn:
	case <-o.quit:
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Public API
// ─────────────────────────────────────────────────────────────────────────────

// Start begins a new session, superseding any running one. It returns once the
// session is preparing; progress is reported through events.
func (o *Orchestrator) Start(ctx context.Context, p Params) error {
	if err := p.normalize(); err != nil {
		return err
	}
	return o.exec(ctx, func() error { return o.start(p) })
}

// Stop ends the running session. An in-flight agent call is allowed to finish
// and its result is discarded.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.exec(ctx, o.stop)
}

// Continue resumes a session that ended naturally.
func (o *Orchestrator) Continue(ctx context.Context) error {
	return o.exec(ctx, o.resume)
}

// Reset discards a finished session and returns to idle.
func (o *Orchestrator) Reset(ctx context.Context) error {
	return o.exec(ctx, o.reset)
}

// Preload locates both agents and reports their models without starting.
func (o *Orchestrator) Preload(ctx context.Context, left, right string) error {
	left = strings.ToLower(strings.TrimSpace(left))
	right = strings.ToLower(strings.TrimSpace(right))
	for _, id := range []string{left, right} {
		if _, err := agent.Lookup(id); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	return o.exec(ctx, func() error { return o.preload(left, right) })
}

// Status returns a snapshot of the current session.
func (o *Orchestrator) Status(ctx context.Context) (protocol.StatusPayload, error) {
	var snap protocol.StatusPayload
	err := o.exec(ctx, func() error {
		snap = o.snapshot()
		return nil
	})
	return snap, err
}

// Session returns a copy of the current session, or nil when idle.
func (o *Orchestrator) Session(ctx context.Context) (*domain.Session, error) {
	var s *domain.Session
	err := o.exec(ctx, func() error {
		s = o.sess.Clone()
		return nil
	})
	return s, err
}

// SetEmitter replaces the event sink.
func (o *Orchestrator) SetEmitter(e Emitter) {
	if e == nil {
		e = nopEmitter{}
	}
	o.post(func() { o.emitter = e })
}

// ─────────────────────────────────────────────────────────────────────────────
// Step runner
// ─────────────────────────────────────────────────────────────────────────────

// launch runs step off the actor. The closure it returns is applied on the
// actor unless the session moved on in the meantime.
func (o *Orchestrator) launch(name string, step func(ctx context.Context) func()) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.cancelStep = cancel
	o.inFlight = true
	epoch := o.epoch

	logging.SafeGo("orchestrator-"+name, func() {
		var apply func()
		err := logging.Guard("orchestrator-"+name, func() error {
			apply = step(ctx)
			return nil
		})
		if err != nil {
			apply = func() { o.fail(err) }
		}
		select {
		case o.results <- stepResult{epoch: epoch, apply: apply}:
		case <-o.quit:
		}
	})
}

func (o *Orchestrator) handleResult(r stepResult) {
	if r.epoch != o.epoch {
		return
	}
	o.inFlight = false
	if o.cancelStep != nil {
		o.cancelStep()
		o.cancelStep = nil
	}

	if o.sess == nil || !o.sess.Status.Active() {
		if o.pendingStop {
			o.pendingStop = false
			o.announceEnd()
		}
		return
	}
	r.apply()
}

// abortStep cancels the in-flight step and makes its result stale.
func (o *Orchestrator) abortStep() {
	if o.cancelStep != nil {
		o.cancelStep()
		o.cancelStep = nil
	}
	o.inFlight = false
	o.epoch++
}

func (o *Orchestrator) emit(t protocol.MessageType, payload any) {
	o.emitter.Emit(protocol.NewEnvelope(t, payload))
}

func (o *Orchestrator) snapshot() protocol.StatusPayload {
	s := o.sess
	if s == nil {
		return protocol.StatusPayload{Status: domain.StatusIdle, Transcript: []domain.Turn{}}
	}
	transcript := append([]domain.Turn{}, s.Transcript...)
	return protocol.StatusPayload{
		Status:       s.Status,
		CurrentRound: s.CurrentRound,
		Transcript:   transcript,
		SessionID:    s.ID,
		Topic:        s.Topic,
		Mode:         s.Mode,
		LeftAgentID:  s.LeftAgentID,
		RightAgentID: s.RightAgentID,
		RoundLimit:   s.RoundLimit,
		NextSpeaker:  s.NextSpeaker,
		EndReason:    s.EndReason,
		Error:        s.Error,
	}
}
