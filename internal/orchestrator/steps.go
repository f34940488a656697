package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/protocol"
)

// Everything in this file runs off the actor and touches no session state.

const (
	opSendMessage       = "send_message"
	opWaitForResponse   = "wait_for_response"
	opGetLatestResponse = "get_latest_response"
)

// prepareJob is everything runPrepare needs, copied out of the session.
type prepareJob struct {
	container  string
	left       string
	right      string
	handles    agent.Handles
	leftModel  string
	rightModel string
	resume     bool
	started    time.Time
	log        *logging.Logger
}

func (j prepareJob) agentID(side domain.Side) string {
	if side == domain.Left {
		return j.left
	}
	return j.right
}

func (j prepareJob) model(side domain.Side) string {
	if side == domain.Left {
		return j.leftModel
	}
	return j.rightModel
}

// runPrepare resolves missing handles, waits for both inputs to become usable
// and applies requested models.
func (o *Orchestrator) runPrepare(ctx context.Context, job prepareJob) (agent.Handles, error) {
	h := job.handles
	reused := h.Complete()
	if reused {
		job.log.Debug("handles_reused", nil)
	} else {
		var err error
		if h, err = o.locate(ctx, job); err != nil {
			return h, err
		}
	}

	err := o.awaitReady(ctx, job, h)
	if err != nil && reused && ctx.Err() == nil {
		// A reused handle may belong to a tab that has since closed.
		job.log.Warn("handles_stale", nil, err)
		if h, err = o.locate(ctx, job); err != nil {
			return h, err
		}
		err = o.awaitReady(ctx, job, h)
	}
	if err != nil {
		return h, err
	}

	sides := []domain.Side{domain.Left, domain.Right}
	for _, side := range sides {
		model := job.model(side)
		if model == "" {
			continue
		}
		if err := h.Get(side).SelectModel(ctx, model); err != nil {
			job.log.Warn("model_select_failed", map[string]interface{}{
				"side":  string(side),
				"model": model,
			}, err)
			continue
		}
		if err := sleep(ctx, o.opts.ModelSettle); err != nil {
			return h, err
		}
	}
	return h, nil
}

func (o *Orchestrator) locate(ctx context.Context, job prepareJob) (agent.Handles, error) {
	h, err := o.locator.Locate(ctx, job.container, agent.ID(job.left), agent.ID(job.right), o.opts.LocatorRetries)
	if err != nil {
		return agent.Handles{}, fmt.Errorf("locate agents: %w", err)
	}
	if h.Left == nil {
		return h, &ResolutionError{Agent: job.left}
	}
	if h.Right == nil {
		return h, &ResolutionError{Agent: job.right}
	}
	return h, nil
}

// awaitReady polls both sides concurrently and returns the first failure.
func (o *Orchestrator) awaitReady(ctx context.Context, job prepareJob, h agent.Handles) error {
	sides := []domain.Side{domain.Left, domain.Right}
	errs := make([]error, len(sides))
	var wg sync.WaitGroup
	for i, side := range sides {
		i, side := i, side
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready, err := waitReady(ctx, h.Get(side), o.opts.Ready)
			switch {
			case err != nil:
				errs[i] = err
			case !ready:
				errs[i] = &ReadinessError{Agent: job.agentID(side)}
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// waitReady polls IsReady within budget. Errors from the adapter count as not
// ready; only cancellation is returned.
func waitReady(ctx context.Context, a agent.Adapter, budget Poll) (bool, error) {
	for i := 0; i < budget.Retries; i++ {
		ready, err := a.IsReady(ctx)
		if err == nil && ready {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if i < budget.Retries-1 {
			if err := sleep(ctx, budget.Interval); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// speak submits text and returns the settled reply. op names the failing call.
func speak(ctx context.Context, a agent.Adapter, text string) (reply string, ok bool, op string, err error) {
	if err := a.SendMessage(ctx, text); err != nil {
		return "", false, opSendMessage, err
	}
	if err := a.WaitForResponseComplete(ctx); err != nil {
		return "", false, opWaitForResponse, err
	}
	reply, ok, err = a.GetLatestResponse(ctx)
	if err != nil {
		return "", false, opGetLatestResponse, err
	}
	return reply, ok, "", nil
}

// runPreload locates both agents and reports each found side's models.
func (o *Orchestrator) runPreload(ctx context.Context, seq uint64, container, left, right string, log *logging.Logger) {
	h, err := o.locator.Locate(ctx, container, agent.ID(left), agent.ID(right), o.opts.LocatorRetries)
	if err != nil {
		log.Warn("preload_failed", map[string]interface{}{"left": left, "right": right}, err)
		return
	}
	o.post(func() { o.preloaded(seq, container, left, right, h) })

	budget := Poll{Retries: o.opts.PreloadReadyRetries, Interval: o.opts.Ready.Interval}
	for _, side := range []domain.Side{domain.Left, domain.Right} {
		a := h.Get(side)
		if a == nil {
			continue
		}
		id := left
		if side == domain.Right {
			id = right
		}
		models := fetchModels(ctx, a, budget, log)
		payload := &protocol.ModelsPayload{Side: side, AgentID: id, Models: models}
		o.post(func() { o.emit(protocol.MsgModelsAvailable, payload) })
	}
}

// fetchModels returns an empty list on any failure.
func fetchModels(ctx context.Context, a agent.Adapter, budget Poll, log *logging.Logger) []domain.Model {
	ready, err := waitReady(ctx, a, budget)
	if err != nil || !ready {
		return []domain.Model{}
	}
	models, err := a.GetAvailableModels(ctx)
	if err != nil {
		log.Warn("list_models_failed", nil, err)
		return []domain.Model{}
	}
	if models == nil {
		models = []domain.Model{}
	}
	return models
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
