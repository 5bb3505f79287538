package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/logger"
)

// RunnerConfig holds configuration for the background run loop.
type RunnerConfig struct {
	Workers          int
	IdlePollInterval time.Duration
	AutoRetryErrors  bool
	MaxStoreFailures int
}

// RunStatus is a read-only snapshot of the run loop.
type RunStatus struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	InFlight  []string   `json:"in_flight"`
	Processed int64      `json:"processed"`
	Failed    int64      `json:"failed"`
	LastError string     `json:"last_error,omitempty"`
	Logs      []string   `json:"logs"`
}

// Runner advances the eligible backlog in the background.
// A dispatcher picks the oldest eligible product, waits on the shared limiter and hands the id
// to one of the workers. Stop only prevents new picks; running advances always finish.
type Runner struct {
	conveyor *Conveyor
	store    ProductStore
	limiter  *rate.Limiter
	logs     *LogBuffer
	metrics  *Metrics

	workers          int
	idlePoll         time.Duration
	statuses         []domain.PipelineStatus
	maxStoreFailures int64

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	startedAt time.Time
	lastError string
	runs      []*run

	// pending holds ids handed to a worker that has not claimed them yet.
	pendingMu sync.Mutex
	pending   map[string]struct{}

	processed     atomic.Int64
	failed        atomic.Int64
	storeFailures atomic.Int64
}

// run tracks the goroutines of one Start.
type run struct {
	wg   sync.WaitGroup
	done chan struct{}
}

// NewRunner creates the run controller.
// Parameters:
//   - conveyor: orchestrator shared with force-sync.
//   - store: item store used to select eligible products.
//   - limiter: the same limiter the conveyor uses for force-sync.
//   - logs: buffer that receives one line per outcome.
//   - metrics: optional collectors.
//   - cfg: loop settings.
//
// Returns:
//   - *Runner: stopped runner.
func NewRunner(
	conveyor *Conveyor,
	store ProductStore,
	limiter *rate.Limiter,
	logs *LogBuffer,
	metrics *Metrics,
	cfg *RunnerConfig,
) *Runner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	idlePoll := cfg.IdlePollInterval
	if idlePoll <= 0 {
		idlePoll = 10 * time.Second
	}
	maxFailures := cfg.MaxStoreFailures
	if maxFailures < 1 {
		maxFailures = 5
	}
	statuses := []domain.PipelineStatus{domain.PipelineStatusIdle}
	if cfg.AutoRetryErrors {
		statuses = append(statuses, domain.PipelineStatusError)
	}
	if limiter == nil {
		limiter = conveyor.limiter
	}
	if logs == nil {
		logs = NewLogBuffer(defaultLogCapacity)
	}

	return &Runner{
		conveyor:         conveyor,
		store:            store,
		limiter:          limiter,
		logs:             logs,
		metrics:          metrics,
		workers:          workers,
		idlePoll:         idlePoll,
		statuses:         statuses,
		maxStoreFailures: int64(maxFailures),
		pending:          make(map[string]struct{}),
	}
}

// Logs exposes the run log buffer.
func (r *Runner) Logs() *LogBuffer {
	return r.logs
}

// Start begins the background loop. It returns false if the loop was already running.
func (r *Runner) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.SetComponent(ctx, "runner")

	r.running = true
	r.cancel = cancel
	r.startedAt = time.Now()
	r.lastError = ""
	r.storeFailures.Store(0)

	active := r.runs[:0]
	for _, prev := range r.runs {
		select {
		case <-prev.done:
		default:
			active = append(active, prev)
		}
	}
	current := &run{done: make(chan struct{})}
	r.runs = append(active, current)

	jobs := make(chan string)
	current.wg.Add(r.workers + 1)
	for i := 0; i < r.workers; i++ {
		go r.worker(logger.WithField(ctx, logger.FieldWorker, i), jobs, &current.wg)
	}
	go r.dispatch(ctx, jobs, &current.wg)
	go func() {
		current.wg.Wait()
		close(current.done)
	}()

	r.metrics.SetRunning(true)
	r.logs.Appendf("Conveyor started with %d worker(s)", r.workers)
	logger.CtxInfo(ctx, "Conveyor started with %d worker(s)", r.workers)
	return true
}

// Stop asks the loop to stop picking new products. It returns false if it was not running.
// In-flight advances are left to finish; use Wait to block until they do.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return false
	}
	r.halt()
	r.logs.Appendf("Conveyor stopped")
	logger.Info("Conveyor stop requested")
	return true
}

// Wait blocks until every goroutine of previous runs has exited or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	runs := append([]*run(nil), r.runs...)
	r.mu.Unlock()

	for _, prev := range runs {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status returns a snapshot of the loop state and recent log lines.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	status := RunStatus{
		Running:   r.running,
		LastError: r.lastError,
	}
	if !r.startedAt.IsZero() {
		started := r.startedAt
		status.StartedAt = &started
	}
	r.mu.Unlock()

	status.InFlight = r.conveyor.guard.Held()
	status.Processed = r.processed.Load()
	status.Failed = r.failed.Load()
	status.Logs = r.logs.Lines()
	return status
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// halt must be called with r.mu held.
func (r *Runner) halt() {
	r.running = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.metrics.SetRunning(false)
}

func (r *Runner) dispatch(ctx context.Context, jobs chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(jobs)

	for ctx.Err() == nil {
		candidates, err := r.store.NextEligible(ctx, r.statuses, r.excluded(), 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.recordStoreFailure(ctx, err)
			if !r.sleep(ctx, r.idlePoll) {
				return
			}
			continue
		}
		r.storeFailures.Store(0)

		if len(candidates) == 0 {
			logger.CtxDebug(ctx, "Backlog empty, polling again in %s", r.idlePoll)
			if !r.sleep(ctx, r.idlePoll) {
				return
			}
			continue
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		id := candidates[0].ID
		r.setPending(id, true)
		select {
		case jobs <- id:
		case <-ctx.Done():
			r.setPending(id, false)
			return
		}
	}
}

func (r *Runner) worker(ctx context.Context, jobs <-chan string, wg *sync.WaitGroup) {
	defer wg.Done()

	// Advances run on a context Stop never cancels. Stop is re-checked after the claim,
	// so a product handed over just before Stop ends as skipped.
	advanceCtx := context.WithoutCancel(ctx)
	eligible := func(p *domain.Product) bool {
		return ctx.Err() == nil && r.eligible(p)
	}
	for id := range jobs {
		if ctx.Err() != nil {
			// Handed over while Stop was in progress.
			r.setPending(id, false)
			continue
		}
		outcome, err := r.conveyor.claimAndAdvance(advanceCtx, id, eligible)
		r.setPending(id, false)
		r.record(advanceCtx, id, outcome, err)
	}
}

func (r *Runner) eligible(p *domain.Product) bool {
	for _, status := range r.statuses {
		if p.PipelineStatus == status {
			return true
		}
	}
	return false
}

func (r *Runner) record(ctx context.Context, id string, outcome *Outcome, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		r.logs.Appendf("%s: vanished from the store, skipped", id)
		return
	case err != nil:
		if outcome != nil && outcome.Status == OutcomeError {
			r.failed.Add(1)
			r.logs.Appendf("%s: error: %s", id, outcome.Reason)
		}
		r.recordStoreFailure(ctx, err)
		return
	}
	r.storeFailures.Store(0)

	switch outcome.Status {
	case OutcomeDone:
		r.processed.Add(1)
		r.logs.Appendf("%s: done in %s", id, outcome.Duration.Round(time.Millisecond))
	case OutcomeError:
		r.processed.Add(1)
		r.failed.Add(1)
		r.logs.Appendf("%s: error at %s: %s", id, outcome.Stage, outcome.Reason)
	case OutcomeInFlight:
		r.logs.Appendf("%s: already in flight, skipped", id)
	case OutcomeSkipped:
		logger.CtxDebug(ctx, "Product %s no longer eligible", id)
	}
}

// recordStoreFailure counts consecutive store failures and stops the loop at the limit.
func (r *Runner) recordStoreFailure(ctx context.Context, err error) {
	n := r.storeFailures.Add(1)
	logger.FromContext(ctx).WithError(err).
		WithField(logger.FieldCount, n).
		Error("Item store failure in run loop")

	if n < r.maxStoreFailures {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.lastError = fmt.Sprintf("store unreachable after %d consecutive failures: %v", n, err)
	r.halt()
	r.logs.Appendf("Conveyor halted: %s", r.lastError)
	logger.CtxError(ctx, "Conveyor halted: %s", r.lastError)
}

func (r *Runner) excluded() []string {
	held := r.conveyor.guard.Held()

	r.pendingMu.Lock()
	for id := range r.pending {
		held = append(held, id)
	}
	r.pendingMu.Unlock()

	sort.Strings(held)
	return held
}

func (r *Runner) setPending(id string, pending bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if pending {
		r.pending[id] = struct{}{}
	} else {
		delete(r.pending, id)
	}
}

// sleep waits d and reports false when ctx ended first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
