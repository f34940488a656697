package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/config"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/logging"
)

// Timing bounds the response wait. Every loop polls at Poll.
type Timing struct {
	Poll time.Duration
	// StartTimeout waits for the reply to begin; expiry is not an error
	StartTimeout time.Duration
	// FinishTimeout waits for the reply to end; expiry is a TimeoutError
	FinishTimeout time.Duration
	// StableWindow is the DOM silence that counts as settled
	StableWindow time.Duration
	// StableTimeout caps the wait for StableWindow
	StableTimeout time.Duration
}

// TimingFromConfig converts the configured bounds.
func TimingFromConfig(c config.TimingConfig) Timing {
	return Timing{
		Poll:          c.Poll,
		StartTimeout:  c.StartTimeout,
		FinishTimeout: c.FinishTimeout,
		StableWindow:  c.StableWindow,
		StableTimeout: c.StableTimeout,
	}
}

// DefaultTiming returns the built-in bounds.
func DefaultTiming() Timing {
	return TimingFromConfig(config.Default().Timing)
}

// TimeoutError reports a reply that never finished.
type TimeoutError struct {
	Agent string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s response did not complete within %s", e.Agent, e.After)
}

// Adapter drives one agent frame.
type Adapter struct {
	info   agent.Info
	sel    Selectors
	frame  *rod.Page
	timing Timing
	log    *logging.Logger

	mu sync.Mutex
	// baseline is the response count seen just before the last send
	baseline int
}

var _ agent.Adapter = (*Adapter)(nil)

// NewAdapter binds the product's selector table to frame.
func NewAdapter(info agent.Info, frame *rod.Page, timing Timing) (*Adapter, error) {
	sel, ok := Products[info.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", agent.ErrUnknownAgent, info.ID)
	}
	return newAdapter(info, sel, frame, timing), nil
}

func newAdapter(info agent.Info, sel Selectors, frame *rod.Page, timing Timing) *Adapter {
	return &Adapter{
		info:   info,
		sel:    sel,
		frame:  frame,
		timing: timing,
		log:    logging.New("adapter." + string(info.ID)),
	}
}

func (a *Adapter) eval(ctx context.Context, js string, arg interface{}) (*proto.RuntimeRemoteObject, error) {
	res, err := a.frame.Context(ctx).Evaluate(rod.Eval(js, a.sel, arg).ByPromise())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.info.Name, err)
	}
	return res, nil
}

func (a *Adapter) evalBool(ctx context.Context, js string, arg interface{}) (bool, error) {
	res, err := a.eval(ctx, js, arg)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (a *Adapter) evalInt(ctx context.Context, js string) (int, error) {
	res, err := a.eval(ctx, js, nil)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (a *Adapter) evalString(ctx context.Context, js string, arg interface{}) (string, error) {
	res, err := a.eval(ctx, js, arg)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// IsReady reports whether the input is on the page.
func (a *Adapter) IsReady(ctx context.Context) (bool, error) {
	return a.evalBool(ctx, jsReady, nil)
}

// SendMessage records the current reply count, inserts text and submits it.
func (a *Adapter) SendMessage(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, err := a.evalInt(ctx, jsCount)
	if err != nil {
		return err
	}
	a.baseline = n

	method, err := a.evalString(ctx, jsInsert, text)
	if err != nil {
		return err
	}
	how, err := a.evalString(ctx, jsSubmit, nil)
	if err != nil {
		return err
	}
	a.log.Debug("message_sent", map[string]interface{}{
		"chars":    len(text),
		"insert":   method,
		"submit":   how,
		"baseline": n,
	})
	return nil
}

// WaitForResponseComplete waits for the reply to start, then to finish, then
// for the DOM to settle.
func (a *Adapter) WaitForResponseComplete(ctx context.Context) error {
	a.mu.Lock()
	baseline := a.baseline
	a.mu.Unlock()
	started := time.Now()

	// The reply may not visibly start before the budget runs out; phase 2
	// still decides.
	_, err := a.poll(ctx, a.timing.StartTimeout, func() (bool, error) {
		streaming, err := a.evalBool(ctx, jsStreaming, nil)
		if err != nil || streaming {
			return streaming, err
		}
		n, err := a.evalInt(ctx, jsCount)
		return n > baseline, err
	})
	if err != nil {
		return err
	}

	done, err := a.poll(ctx, a.timing.FinishTimeout, func() (bool, error) {
		streaming, err := a.evalBool(ctx, jsStreaming, nil)
		if err != nil || streaming {
			return false, err
		}
		n, err := a.evalInt(ctx, jsCount)
		return n > baseline, err
	})
	if err != nil {
		return err
	}
	if !done {
		return &TimeoutError{Agent: a.info.Name, After: a.timing.FinishTimeout}
	}

	if err := a.settle(ctx); err != nil {
		return err
	}
	a.log.Debug("response_complete", map[string]interface{}{
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

// settle waits for StableWindow of DOM silence, giving up quietly after
// StableTimeout.
func (a *Adapter) settle(ctx context.Context) error {
	if _, err := a.eval(ctx, jsObserve, nil); err != nil {
		return err
	}
	_, err := a.poll(ctx, a.timing.StableTimeout, func() (bool, error) {
		quiet, err := a.evalInt(ctx, jsQuietFor)
		return time.Duration(quiet)*time.Millisecond >= a.timing.StableWindow, err
	})
	return err
}

// poll calls cond every Poll until it holds or budget elapses.
func (a *Adapter) poll(ctx context.Context, budget time.Duration, cond func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(a.timing.Poll)
	defer ticker.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

type latestReply struct {
	OK   bool   `json:"ok"`
	Text string `json:"text"`
}

// GetLatestResponse reads the newest reply.
func (a *Adapter) GetLatestResponse(ctx context.Context) (string, bool, error) {
	raw, err := a.evalString(ctx, jsLatest, nil)
	if err != nil {
		return "", false, err
	}
	var r latestReply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return "", false, fmt.Errorf("%s: decode reply: %w", a.info.Name, err)
	}
	return r.Text, r.OK, nil
}

// GetAvailableModels opens the model menu and scrapes its options. Products
// without a menu return an empty list.
func (a *Adapter) GetAvailableModels(ctx context.Context) ([]domain.Model, error) {
	if len(a.sel.ModelButton) == 0 {
		return []domain.Model{}, nil
	}
	raw, err := a.evalString(ctx, jsModels, nil)
	if err != nil {
		return nil, err
	}
	models := []domain.Model{}
	if err := json.Unmarshal([]byte(raw), &models); err != nil {
		return nil, fmt.Errorf("%s: decode models: %w", a.info.Name, err)
	}
	return models, nil
}

// SelectModel switches to id, doing nothing when it is already active.
func (a *Adapter) SelectModel(ctx context.Context, id string) error {
	if len(a.sel.ModelButton) == 0 {
		return fmt.Errorf("%s does not offer model selection", a.info.Name)
	}
	outcome, err := a.evalString(ctx, jsSelectModel, id)
	if err != nil {
		return err
	}
	switch outcome {
	case "current", "selected":
		a.log.Debug("model_selected", map[string]interface{}{"model": id, "outcome": outcome})
		return nil
	case "unsupported":
		return fmt.Errorf("%s model selector not found", a.info.Name)
	default:
		return fmt.Errorf("%s model %q not found", a.info.Name, id)
	}
}
