package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/tarsy-eval/pkg/config"
	"github.com/codeready-toolchain/tarsy-eval/pkg/dialogue"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/codeready-toolchain/tarsy-eval/pkg/judge"
	"github.com/codeready-toolchain/tarsy-eval/pkg/progresslog"
	"github.com/codeready-toolchain/tarsy-eval/pkg/store"
)

// PoolHealth reports the current health of a Pool, mirroring the shape of
// the teacher's queue.PoolHealth with DB-process fields replaced by the
// Store's trial-queue depth.
type PoolHealth struct {
	RunID         string
	TotalWorkers  int
	ActiveWorkers int
	QueueDepth    int
	WorkerStats   []WorkerHealth
}

// Pool drives one run's trials to completion: it enqueues the resolved
// plan into the Store's claimable trial queue, spawns a bounded number of
// workers, and blocks until the queue for this run drains or ctx is
// cancelled. Grounded on the teacher's queue.WorkerPool, with the
// session-cancel registry dropped (see worker.go) and orphan detection
// moved to stale.go, which operates at the run level instead of the
// per-trial level since this is a single process, not a multi-pod fleet.
type Pool struct {
	runID       string
	store       *store.Client
	transcripts *store.TranscriptStore
	progress    *progresslog.Writer
	plan        *plan
	engine      *dialogue.Engine
	judge       *judge.Judge

	judgeProvider string
	judgeModel    string
	skipRubric    bool

	cfg *config.SchedulerConfig

	mu      sync.RWMutex
	workers []*worker
}

// NewPool wires a Pool for one run.
func NewPool(
	runID string,
	storeClient *store.Client,
	transcripts *store.TranscriptStore,
	progress *progresslog.Writer,
	p *plan,
	engine *dialogue.Engine,
	judgeClient *judge.Judge,
	judgeProvider, judgeModel string,
	skipRubric bool,
	cfg *config.SchedulerConfig,
) *Pool {
	return &Pool{
		runID:         runID,
		store:         storeClient,
		transcripts:   transcripts,
		progress:      progress,
		plan:          p,
		engine:        engine,
		judge:         judgeClient,
		judgeProvider: judgeProvider,
		judgeModel:    judgeModel,
		skipRubric:    skipRubric,
		cfg:           cfg,
	}
}

// Run enqueues keys (a subset of the Pool's plan) and blocks until every
// one of them reaches a terminal state or ctx is cancelled.
func (p *Pool) Run(ctx context.Context, keys []evalmodel.NaturalKey) error {
	records := make([]store.TrialRecord, 0, len(keys))
	for _, key := range keys {
		item, ok := p.plan.items[key]
		if !ok {
			return &ConfigError{Reason: fmt.Sprintf("key %+v not present in resolved plan", key)}
		}
		records = append(records, store.TrialRecord{Key: key, ScenarioName: item.scenario.ScenarioName})
	}

	if err := p.store.EnqueueTrials(ctx, records); err != nil {
		return &StoreError{Op: "enqueue trials", Err: err}
	}

	numWorkers := p.cfg.Parallelism
	if numWorkers <= 0 {
		numWorkers = 1
	}

	slog.Info("starting worker pool", "run_id", p.runID, "parallelism", numWorkers, "trials", len(records))

	p.mu.Lock()
	p.workers = make([]*worker, 0, numWorkers)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", p.runID, i), p)
		p.mu.Lock()
		p.workers = append(p.workers, w)
		p.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()

	slog.Info("worker pool drained", "run_id", p.runID)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

// Health reports the pool's current state.
func (p *Pool) Health(ctx context.Context) (PoolHealth, error) {
	depth, err := p.store.CountPendingTrials(ctx, p.runID)
	if err != nil {
		return PoolHealth{}, &StoreError{Op: "counting pending trials", Err: err}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.Health()
		stats[i] = h
		if h.Status == string(workerWorking) {
			active++
		}
	}

	return PoolHealth{
		RunID:         p.runID,
		TotalWorkers:  len(p.workers),
		ActiveWorkers: active,
		QueueDepth:    depth,
		WorkerStats:   stats,
	}, nil
}
