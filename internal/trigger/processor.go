// Package trigger reacts to the event log. A single loop polls unconsumed
// events roughly once a second, runs each through a pure policy, and enacts
// the decision: spawn a runner, advance a ready task, or queue worktree
// cleanup. Capacity-blocked events stay unconsumed and re-arrive next tick.
package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viberelay/relay/internal/cachemanager"
	"github.com/viberelay/relay/internal/config"
	"github.com/viberelay/relay/internal/depgraph"
	"github.com/viberelay/relay/internal/events"
	"github.com/viberelay/relay/internal/log"
	"github.com/viberelay/relay/internal/store"
	"github.com/viberelay/relay/internal/tools"
	"github.com/viberelay/relay/internal/worktree"
)

// PollInterval is the trigger tick.
const PollInterval = time.Second

const stepCacheTTL = 5 * time.Minute

// cleanupQueueSize bounds the pending-cleanup channel. Cleanup is not
// time-critical; a full queue drops the request and a later event retries.
const cleanupQueueSize = 64

// Dispatcher runs an agent for a task. Satisfied by *runner.Runner.
type Dispatcher interface {
	Run(ctx context.Context, taskID string) (*store.AgentRun, error)
}

// Processor is the trigger scheduler.
type Processor struct {
	store     *store.Store
	surface   *tools.Surface
	runner    Dispatcher
	worktrees *worktree.Coordinator
	cfg       config.Config

	stepCache *cachemanager.InMemoryCacheManager[string, *store.WorkflowStep]
	cleanupCh chan string

	// inFlight holds tasks handed to the runner whose AgentRun row may not
	// exist yet. The capacity gate counts them so one tick cannot
	// over-dispatch past max_parallel_agents.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a Processor.
func New(s *store.Store, surface *tools.Surface, r Dispatcher, worktrees *worktree.Coordinator, cfg config.Config) *Processor {
	return &Processor{
		store:     s,
		surface:   surface,
		runner:    r,
		worktrees: worktrees,
		cfg:       cfg,
		stepCache: cachemanager.NewInMemoryCacheManager[string, *store.WorkflowStep](
			"trigger-steps", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval),
		cleanupCh: make(chan string, cleanupQueueSize),
		inFlight:  make(map[string]struct{}),
	}
}

// Run drives the poll loop until ctx is cancelled. It also starts the
// cleanup worker.
func (p *Processor) Run(ctx context.Context) {
	log.Info(log.CatTrigger, "Trigger processor started", "interval", PollInterval.String())
	log.SafeGo("trigger-cleanup-worker", func() { p.cleanupWorker(ctx) })

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatTrigger, "Trigger processor stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick processes all currently unconsumed trigger events in insertion order.
func (p *Processor) Tick(ctx context.Context) {
	unconsumed, err := store.UnconsumedForTrigger(ctx, p.store.DB(), events.TriggerTypes())
	if err != nil {
		log.ErrorErr(log.CatTrigger, "Failed to read unconsumed events", err)
		return
	}

	view := p.view()
	for _, event := range unconsumed {
		decision, err := Decide(ctx, event, p.cfg.MaxParallelAgents, view)
		if err != nil {
			log.ErrorErr(log.CatTrigger, "Policy error", err, "event_id", event.ID, "type", event.Type)
		}
		p.enact(ctx, event, decision)
	}
}

// enact applies a decision. Every verb except retry consumes the event.
func (p *Processor) enact(ctx context.Context, event *store.Event, d Decision) {
	switch d.Verb {
	case VerbRetry:
		log.Debug(log.CatTrigger, "At capacity, leaving event for next tick",
			"event_id", event.ID, "task_id", d.TaskID)
		return

	case VerbDispatch:
		p.consumeEvent(ctx, event)
		log.Info(log.CatTrigger, "Dispatching agent", "task_id", d.TaskID, "event_id", event.ID)
		taskID := d.TaskID
		p.mu.Lock()
		p.inFlight[taskID] = struct{}{}
		p.mu.Unlock()
		log.SafeGo("trigger-dispatch-"+taskID, func() {
			defer func() {
				p.mu.Lock()
				delete(p.inFlight, taskID)
				p.mu.Unlock()
			}()
			if _, err := p.runner.Run(context.WithoutCancel(ctx), taskID); err != nil {
				log.ErrorErr(log.CatTrigger, "Dispatch failed", err, "task_id", taskID)
			}
		})

	case VerbAdvance:
		p.consumeEvent(ctx, event)
		if _, advanced, err := p.surface.AdvanceToNextAgentStep(ctx, d.TaskID); err != nil {
			log.ErrorErr(log.CatTrigger, "Failed to advance ready task", err, "task_id", d.TaskID)
		} else if !advanced {
			log.Debug(log.CatTrigger, "No agent step ahead of ready task", "task_id", d.TaskID)
		}

	case VerbCleanup:
		p.consumeEvent(ctx, event)
		select {
		case p.cleanupCh <- d.TaskID:
		default:
			log.Warn(log.CatTrigger, "Cleanup queue full, dropping request", "task_id", d.TaskID)
		}

	default:
		p.consumeEvent(ctx, event)
	}
}

func (p *Processor) consumeEvent(ctx context.Context, event *store.Event) {
	if err := store.MarkTriggerConsumed(ctx, p.store.DB(), event.ID); err != nil {
		log.ErrorErr(log.CatTrigger, "Failed to mark event consumed", err, "event_id", event.ID)
	}
}

// cleanupWorker removes worktrees and releases ports off the scheduler loop.
func (p *Processor) cleanupWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-p.cleanupCh:
			p.cleanupTask(ctx, taskID)
		}
	}
}

func (p *Processor) cleanupTask(ctx context.Context, taskID string) {
	task, err := store.GetTask(ctx, p.store.DB(), taskID)
	if err != nil {
		log.Warn(log.CatTrigger, "Cleanup target missing", "task_id", taskID, "error", err)
		return
	}

	if released, err := p.surface.ReleasePorts(ctx, taskID); err != nil {
		log.Warn(log.CatTrigger, "Failed to release ports", "task_id", taskID, "error", err)
	} else if released > 0 {
		log.Debug(log.CatTrigger, "Released ports", "task_id", taskID, "count", released)
	}

	repoPath := p.repoFor(ctx, task.ProjectID)
	if err := p.worktrees.Remove(ctx, task, repoPath); err != nil {
		log.Warn(log.CatTrigger, "Worktree cleanup failed", "task_id", taskID, "error", err)
	}
}

func (p *Processor) repoFor(ctx context.Context, projectID string) string {
	project, err := store.GetProject(ctx, p.store.DB(), projectID)
	if err == nil && project.RepoPath != nil && *project.RepoPath != "" {
		return *project.RepoPath
	}
	return p.cfg.RepoPath
}

// view builds the policy's read surface over the store, with step metadata
// served through the cache. Steps are immutable after creation so a TTL
// cache is safe.
func (p *Processor) view() View {
	return &storeView{store: p.store, cache: p.stepCache, processor: p}
}

type storeView struct {
	store     *store.Store
	cache     *cachemanager.InMemoryCacheManager[string, *store.WorkflowStep]
	processor *Processor
}

// inFlightWithoutRun counts dispatched tasks that have not yet opened their
// AgentRun row, excluding excludeTaskID.
func (v *storeView) inFlightWithoutRun(ctx context.Context, excludeTaskID string) int {
	v.processor.mu.Lock()
	ids := make([]string, 0, len(v.processor.inFlight))
	for id := range v.processor.inFlight {
		if id != excludeTaskID {
			ids = append(ids, id)
		}
	}
	v.processor.mu.Unlock()

	count := 0
	for _, id := range ids {
		if _, err := store.GetActiveRun(ctx, v.store.DB(), id); errors.Is(err, store.ErrNotFound) {
			count++
		}
	}
	return count
}

func (v *storeView) Task(ctx context.Context, taskID string) (*store.Task, error) {
	return store.GetTask(ctx, v.store.DB(), taskID)
}

func (v *storeView) Step(ctx context.Context, stepID string) (*store.WorkflowStep, error) {
	if step, ok := v.cache.Get(ctx, stepID); ok {
		return step, nil
	}
	step, err := store.GetStep(ctx, v.store.DB(), stepID)
	if err != nil {
		return nil, err
	}
	v.cache.Set(ctx, stepID, step, stepCacheTTL)
	return step, nil
}

func (v *storeView) TerminalPosition(ctx context.Context, projectID string) (int, error) {
	return store.TerminalPosition(ctx, v.store.DB(), projectID)
}

func (v *storeView) HasActiveRun(ctx context.Context, taskID string) (bool, error) {
	v.processor.mu.Lock()
	_, dispatched := v.processor.inFlight[taskID]
	v.processor.mu.Unlock()
	if dispatched {
		return true, nil
	}

	_, err := store.GetActiveRun(ctx, v.store.DB(), taskID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (v *storeView) ParentApproved(ctx context.Context, taskID string) (bool, error) {
	task, err := store.GetTask(ctx, v.store.DB(), taskID)
	if err != nil {
		return false, err
	}
	return depgraph.ParentApproved(ctx, v.store.DB(), task)
}

func (v *storeView) IsBlocked(ctx context.Context, taskID string) (bool, error) {
	return depgraph.IsBlocked(ctx, v.store.DB(), taskID)
}

func (v *storeView) ActiveRunCount(ctx context.Context) (int, error) {
	count, err := store.CountActiveRuns(ctx, v.store.DB())
	if err != nil {
		return 0, err
	}
	return count + v.inFlightWithoutRun(ctx, ""), nil
}
