package orchestrator

import (
	"context"
	"time"

	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/logging"
	"github.com/joss/clash/internal/store"
)

const persistTimeout = 5 * time.Second

// persist writes the session record. Failures are logged, not fatal: the
// session keeps running on its in-memory state.
func (o *Orchestrator) persist() {
	if o.sess == nil {
		return
	}
	o.sess.UpdatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(o.baseCtx, persistTimeout)
	defer cancel()
	if err := o.state.SaveState(ctx, o.sess); err != nil {
		o.log.Error("persist_failed", map[string]interface{}{
			"status": string(o.sess.Status),
		}, err)
	}
}

// restore loads the persisted record. Incompatible or corrupt records are
// cleared; a record caught mid-session becomes an error.
func (o *Orchestrator) restore(ctx context.Context) error {
	s, err := o.state.LoadState(ctx)
	switch {
	case store.IsNotFound(err):
		return nil
	case store.IsCorrupt(err):
		o.log.Warn("state_discarded", map[string]interface{}{"reason": "corrupt"}, err)
		return o.state.ClearState(ctx)
	case err != nil:
		return err
	}

	if s.SchemaVersion != domain.SchemaVersion {
		o.log.Warn("state_discarded", map[string]interface{}{
			"reason":  "schema_version",
			"found":   s.SchemaVersion,
			"current": domain.SchemaVersion,
		}, nil)
		return o.state.ClearState(ctx)
	}
	if err := s.Validate(); err != nil {
		o.log.Warn("state_discarded", map[string]interface{}{"reason": "invalid"}, err)
		return o.state.ClearState(ctx)
	}

	o.sess = s
	o.log = logging.New("orchestrator").WithSession(s.ID)
	if s.Status.Active() {
		s.Status = domain.StatusError
		s.Error = interruptedMessage
		o.persist()
		o.archive()
	}
	o.log.Info("state_restored", map[string]interface{}{
		"status": string(s.Status),
		"turns":  len(s.Transcript),
	})
	return nil
}

// archive snapshots a finished session into history. Sessions without any
// turn are not worth keeping.
func (o *Orchestrator) archive() {
	h := o.opts.History
	if h == nil || o.sess == nil || len(o.sess.Transcript) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(o.baseCtx, persistTimeout)
	defer cancel()
	entry := domain.NewHistoryEntry(o.sess.ID, o.sess, time.Now().UTC())
	if err := h.SaveHistory(ctx, entry); err != nil {
		o.log.Error("archive_failed", nil, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Keep-alive
// ─────────────────────────────────────────────────────────────────────────────

func (o *Orchestrator) startKeepAlive() {
	if o.keepAliveID != 0 {
		return
	}
	log := logging.New("keepalive")
	if o.sess != nil {
		log = log.WithSession(o.sess.ID)
	}
	id, err := o.cron.AddFunc(o.opts.KeepAlive, func() { o.keepAliveTick(log) })
	if err != nil {
		o.log.Error("keepalive_failed", map[string]interface{}{"spec": o.opts.KeepAlive}, err)
		return
	}
	o.keepAliveID = id
}

func (o *Orchestrator) stopKeepAlive() {
	if o.keepAliveID == 0 {
		return
	}
	o.cron.Remove(o.keepAliveID)
	o.keepAliveID = 0
}

// keepAliveTick runs on the cron goroutine and only touches the store.
func (o *Orchestrator) keepAliveTick(log *logging.Logger) {
	t, ok := o.state.(Toucher)
	if !ok {
		log.Debug("tick", nil)
		return
	}
	ctx, cancel := context.WithTimeout(o.baseCtx, persistTimeout)
	defer cancel()
	if err := t.Touch(ctx); err != nil {
		log.Warn("touch_failed", nil, err)
		return
	}
	log.Debug("tick", nil)
}
