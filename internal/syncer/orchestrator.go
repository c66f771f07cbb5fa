// Package syncer runs the background drain cycle: it pulls eligible items
// from the sync queue, dispatches them to the gateway with bounded
// concurrency, and settles each outcome back into the store.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmarin/campo/internal/bus"
	"github.com/rmarin/campo/internal/gateway"
	"github.com/rmarin/campo/internal/resolve"
	"github.com/rmarin/campo/internal/status"
	"github.com/rmarin/campo/internal/store"
)

// Config controls drain cycle behavior.
type Config struct {
	Interval     time.Duration // periodic trigger cadence
	CycleTimeout time.Duration // hard bound on a single cycle
	BatchSize    int
	MaxInFlight  int
	MaxAttempts  int
	Backoff      Backoff
	Retention    time.Duration // synced media/pings older than this are pruned
}

// Orchestrator owns the drain loop. Cycles are triggered by the interval
// timer, connectivity regain, app resume, server push, or a manual request;
// triggers arriving while a cycle runs coalesce into at most one follow-up.
type Orchestrator struct {
	store   *store.Store
	gw      gateway.Gateway
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cfg     Config

	trigger chan string
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	running bool
}

// New creates an orchestrator. Zero config fields fall back to safe defaults.
func New(st *store.Store, gw gateway.Gateway, b *bus.Bus, machine *status.Machine, logger *zap.Logger, cfg Config) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = 2 * time.Second
	}
	if cfg.Backoff.Cap <= 0 {
		cfg.Backoff.Cap = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Orchestrator{
		store:   st,
		gw:      gw,
		bus:     b,
		machine: machine,
		logger:  logger,
		cfg:     cfg,
		trigger: make(chan string, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the drain loop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	go o.loop(ctx)
}

// Stop cancels the loop and waits for an in-flight cycle to wind down.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
}

// OnTrigger requests a drain cycle. Non-blocking: if a trigger is already
// pending the new one folds into it.
func (o *Orchestrator) OnTrigger(kind string) {
	select {
	case o.trigger <- kind:
	default:
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	// Drain requests also arrive over the bus (user actions in the api layer).
	var reqCh <-chan bus.Event
	if o.bus != nil {
		ch, unsub := o.bus.Subscribe("sync.request", 16)
		defer unsub()
		reqCh = ch
	}

	lastPrune := time.Now()

	for {
		select {
		case kind := <-o.trigger:
			o.RunCycle(ctx, kind)
		case evt := <-reqCh:
			kind, _ := evt.Payload.(string)
			if kind == "" {
				kind = "manual"
			}
			o.RunCycle(ctx, kind)
		case <-ticker.C:
			o.RunCycle(ctx, "timer")
		case <-ctx.Done():
			return
		}

		if time.Since(lastPrune) > 24*time.Hour {
			if n, err := o.store.PruneSynced(o.cfg.Retention); err != nil {
				o.logger.Error("prune failed", zap.Error(err))
			} else if n > 0 {
				o.logger.Info("pruned synced rows", zap.Int64("rows", n))
			}
			lastPrune = time.Now()
		}
	}
}

// cycleStats accumulates outcome counts across a cycle's workers.
type cycleStats struct {
	mu        sync.Mutex
	synced    int
	failed    int
	dead      int
	conflicts int
	offline   bool
}

// RunCycle drains the queue until it is empty or every remaining item is
// deferred. Safe to call directly; the loop uses it for every trigger.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger string) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	if err := o.machine.Transition(status.Draining); err != nil {
		o.logger.Warn("cycle skipped", zap.String("trigger", trigger), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.CycleTimeout)
	defer cancel()

	started := time.Now()
	o.publish("sync.cycle_started", map[string]string{"trigger": trigger})
	o.logger.Info("drain cycle started", zap.String("trigger", trigger))

	stats := &cycleStats{}
	seen := make(map[string]bool)

	for ctx.Err() == nil && !stats.offline {
		batch, err := o.store.DequeueBatch(o.cfg.BatchSize)
		if err != nil {
			o.logger.Error("dequeue failed", zap.Error(err))
			break
		}

		// Items that failed this cycle come back from DequeueBatch until
		// their retry deadline passes; seeing one again means everything
		// still eligible has been attempted.
		fresh := batch[:0:0]
		for _, it := range batch {
			if !seen[it.ID] {
				seen[it.ID] = true
				fresh = append(fresh, it)
			}
		}
		if len(fresh) == 0 {
			break
		}

		o.dispatch(ctx, fresh, stats)
	}

	o.settleState(ctx, stats)

	o.publish("sync.cycle_finished", CycleSummary{
		Trigger:   trigger,
		Synced:    stats.synced,
		Failed:    stats.failed,
		Dead:      stats.dead,
		Conflicts: stats.conflicts,
		Offline:   stats.offline,
		Duration:  time.Since(started),
	})
	o.logger.Info("drain cycle finished",
		zap.String("trigger", trigger),
		zap.Int("synced", stats.synced),
		zap.Int("failed", stats.failed),
		zap.Int("dead", stats.dead),
		zap.Int("conflicts", stats.conflicts),
		zap.Bool("offline", stats.offline),
		zap.Duration("duration", time.Since(started)))
}

// CycleSummary is the payload of sync.cycle_finished events.
type CycleSummary struct {
	Trigger   string
	Synced    int
	Failed    int
	Dead      int
	Conflicts int
	Offline   bool
	Duration  time.Duration
}

func (o *Orchestrator) settleState(ctx context.Context, stats *cycleStats) {
	switch {
	case stats.offline:
		if err := o.machine.Transition(status.Offline); err != nil {
			o.logger.Warn("state transition failed", zap.Error(err))
		}
		o.publish("sync.interrupted", map[string]string{"reason": "transport"})
	case ctx.Err() != nil:
		// Ran out of cycle, not out of connectivity: pick up where we left
		// off on the next cycle.
		if err := o.machine.Transition(status.Idle); err != nil {
			o.logger.Warn("state transition failed", zap.Error(err))
		}
		o.publish("sync.interrupted", map[string]string{"reason": ctx.Err().Error()})
		o.OnTrigger("resume")
	default:
		if err := o.machine.Transition(status.Idle); err != nil {
			o.logger.Warn("state transition failed", zap.Error(err))
		}
	}
}

// dispatch fans a batch out to at most MaxInFlight concurrent workers.
func (o *Orchestrator) dispatch(ctx context.Context, batch []store.QueueItem, stats *cycleStats) {
	sem := make(chan struct{}, o.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for _, item := range batch {
		if ctx.Err() != nil {
			break
		}
		stats.mu.Lock()
		off := stats.offline
		stats.mu.Unlock()
		if off {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(it store.QueueItem) {
			defer wg.Done()
			defer func() { <-sem }()
			o.processItem(ctx, it, stats)
		}(item)
	}
	wg.Wait()
}

func (o *Orchestrator) processItem(ctx context.Context, item store.QueueItem, stats *cycleStats) {
	claimed, err := o.store.MarkSyncing(item)
	if err != nil {
		o.logger.Error("claim failed", zap.Error(err),
			zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID))
		return
	}
	if !claimed {
		// Entity left pending state since dequeue (edit in progress or an
		// explicit user action). Skip it this cycle.
		return
	}

	switch item.Kind {
	case store.KindAction:
		o.syncAction(ctx, item, stats)
	case store.KindMedia:
		o.syncMedia(ctx, item, stats)
	case store.KindLocation:
		o.syncPing(ctx, item, stats)
	default:
		o.logger.Error("unknown queue kind", zap.String("kind", string(item.Kind)),
			zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID))
		_ = o.store.MarkDead(item, "unknown queue kind")
	}
}

func (o *Orchestrator) syncAction(ctx context.Context, item store.QueueItem, stats *cycleStats) {
	a, err := o.store.GetAction(item.OrgID, item.EntityID)
	if err != nil {
		o.logger.Error("load action failed", zap.Error(err),
			zap.String("action_id", item.EntityID), zap.String("queue_item_id", item.ID))
		_ = o.store.MarkDead(item, "entity not found: "+err.Error())
		return
	}

	res, err := o.gw.UpsertAction(ctx, a)
	if err != nil {
		o.settleFailure(ctx, item, err, stats)
		return
	}

	if res.Conflict {
		o.resolveConflict(item, a, res.Server, stats)
		return
	}

	if err := o.store.MarkActionSynced(item, a.Version); err != nil {
		o.logger.Error("mark synced failed", zap.Error(err),
			zap.String("action_id", a.ID), zap.String("queue_item_id", item.ID))
		return
	}
	stats.mu.Lock()
	stats.synced++
	stats.mu.Unlock()
	o.publish("sync.item_synced", map[string]string{"kind": "action", "id": a.ID})
	o.logger.Info("action synced", zap.String("action_id", a.ID), zap.String("server_id", res.ServerID))
}

// resolveConflict merges the local copy with the newer server copy. A clean
// merge is saved locally and resubmitted on the next cycle; a lifecycle
// divergence parks the action in conflict state until the user acknowledges.
func (o *Orchestrator) resolveConflict(item store.QueueItem, local, server *store.FieldAction, stats *cycleStats) {
	r := resolve.Merge(local, server)
	if r.Outcome == resolve.OutcomeConflict {
		if err := o.store.MarkConflict(item); err != nil {
			o.logger.Error("mark conflict failed", zap.Error(err),
				zap.String("action_id", local.ID), zap.String("queue_item_id", item.ID))
			return
		}
		stats.mu.Lock()
		stats.conflicts++
		stats.mu.Unlock()
		o.publish("sync.conflict", map[string]string{"action_id": local.ID})
		o.logger.Warn("action conflicted, awaiting acknowledgement",
			zap.String("action_id", local.ID))
		return
	}

	if err := o.store.SaveMerged(r.Merged, local.Version, item); err != nil {
		o.logger.Error("save merged failed", zap.Error(err),
			zap.String("action_id", local.ID), zap.String("queue_item_id", item.ID))
		return
	}
	o.logger.Info("action auto-merged",
		zap.String("action_id", local.ID),
		zap.Strings("fields", r.Fields))
}

func (o *Orchestrator) syncMedia(ctx context.Context, item store.QueueItem, stats *cycleStats) {
	m, err := o.store.GetMedia(item.OrgID, item.EntityID)
	if err != nil {
		o.logger.Error("load media failed", zap.Error(err),
			zap.String("media_id", item.EntityID), zap.String("queue_item_id", item.ID))
		_ = o.store.MarkDead(item, "entity not found: "+err.Error())
		return
	}

	res, err := o.gw.UploadMedia(ctx, m)
	if err != nil {
		o.settleFailure(ctx, item, err, stats)
		return
	}

	if err := o.store.MarkMediaSynced(item, res.URL); err != nil {
		o.logger.Error("mark synced failed", zap.Error(err),
			zap.String("media_id", m.ID), zap.String("queue_item_id", item.ID))
		return
	}
	stats.mu.Lock()
	stats.synced++
	stats.mu.Unlock()
	o.publish("sync.item_synced", map[string]string{"kind": "media", "id": m.ID})
	o.logger.Info("media uploaded", zap.String("media_id", m.ID), zap.String("url", res.URL))
}

func (o *Orchestrator) syncPing(ctx context.Context, item store.QueueItem, stats *cycleStats) {
	p, err := o.store.GetPing(item.OrgID, item.EntityID)
	if err != nil {
		o.logger.Error("load ping failed", zap.Error(err),
			zap.String("ping_id", item.EntityID), zap.String("queue_item_id", item.ID))
		_ = o.store.MarkDead(item, "entity not found: "+err.Error())
		return
	}

	if _, err := o.gw.PingLocation(ctx, p); err != nil {
		o.settleFailure(ctx, item, err, stats)
		return
	}

	if err := o.store.MarkPingSynced(item); err != nil {
		o.logger.Error("mark synced failed", zap.Error(err),
			zap.String("ping_id", p.ID), zap.String("queue_item_id", item.ID))
		return
	}
	stats.mu.Lock()
	stats.synced++
	stats.mu.Unlock()
	o.publish("sync.item_synced", map[string]string{"kind": "location", "id": p.ID})
}

// settleFailure classifies a gateway error and updates the item accordingly.
// Transport errors (no response observed) revert the claim without counting
// an attempt and flag the cycle offline. Retryable responses count an attempt
// and defer with backoff until max attempts, then the item goes dead.
// Non-retryable responses go dead immediately.
func (o *Orchestrator) settleFailure(ctx context.Context, item store.QueueItem, err error, stats *cycleStats) {
	// Cycle cancellation (deadline or daemon shutdown) is an interruption,
	// not a delivery verdict: the link may be perfectly healthy. Revert and
	// let settleState end the cycle Idle with a follow-up scheduled.
	if ctx.Err() != nil {
		if err := o.store.RevertInFlight(item); err != nil {
			o.logger.Error("revert failed", zap.Error(err),
				zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID))
		}
		o.logger.Warn("attempt interrupted by cycle cancellation",
			zap.Error(err), zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID))
		return
	}

	var gerr *gateway.Error
	if !errors.As(err, &gerr) || gerr.Transport {
		if err := o.store.RevertInFlight(item); err != nil {
			o.logger.Error("revert failed", zap.Error(err),
				zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID))
		}
		stats.mu.Lock()
		stats.offline = true
		stats.mu.Unlock()
		o.logger.Warn("transport failure, going offline",
			zap.Error(err), zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID))
		return
	}

	if gerr.TenantRejected() {
		o.logger.Error("tenant boundary rejected by gateway",
			zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID), zap.String("org_id", item.OrgID))
	}

	attempts := item.Attempts + 1
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.MaxAttempts
	}
	if !gerr.Retryable || attempts >= maxAttempts {
		if err := o.store.MarkDead(item, gerr.Reason); err != nil {
			o.logger.Error("mark dead failed", zap.Error(err),
				zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID))
			return
		}
		stats.mu.Lock()
		stats.dead++
		stats.mu.Unlock()
		o.publish("sync.item_failed", ItemFailure{
			Kind:     string(item.Kind),
			EntityID: item.EntityID,
			Reason:   gerr.Reason,
			Dead:     true,
		})
		o.logger.Error("item exhausted",
			zap.String("entity_id", item.EntityID),
			zap.String("queue_item_id", item.ID),
			zap.Int("attempts", attempts),
			zap.String("reason", gerr.Reason))
		return
	}

	retryAt := time.Now().Add(o.cfg.Backoff.Delay(attempts))
	if err := o.store.MarkFailed(item, gerr.Reason, retryAt); err != nil {
		o.logger.Error("mark failed failed", zap.Error(err),
			zap.String("entity_id", item.EntityID), zap.String("queue_item_id", item.ID))
		return
	}
	stats.mu.Lock()
	stats.failed++
	stats.mu.Unlock()
	o.publish("sync.item_failed", ItemFailure{
		Kind:     string(item.Kind),
		EntityID: item.EntityID,
		Reason:   gerr.Reason,
	})
	o.logger.Warn("attempt failed, deferred",
		zap.String("entity_id", item.EntityID),
		zap.String("queue_item_id", item.ID),
		zap.Int("attempts", attempts),
		zap.Time("retry_at", retryAt),
		zap.String("reason", gerr.Reason))
}

// ItemFailure is the payload of sync.item_failed events.
type ItemFailure struct {
	Kind     string
	EntityID string
	Reason   string
	Dead     bool
}

func (o *Orchestrator) publish(kind string, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
