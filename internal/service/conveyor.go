package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/integration"
	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/repository"
)

// OutcomeStatus is the result category of one Advance call.
type OutcomeStatus string

const (
	OutcomeDone     OutcomeStatus = "done"
	OutcomeError    OutcomeStatus = "error"
	OutcomeInFlight OutcomeStatus = "in_flight"
	// OutcomeSkipped is returned to the run loop when the product stopped being eligible
	// between selection and claim (for example, a force-sync finished it first).
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome describes what Advance did to one product.
type Outcome struct {
	ProductID string        `json:"product_id"`
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Stage     domain.Stage  `json:"stage,omitempty"` // failing stage, when Status is error
	Duration  time.Duration `json:"duration_ns"`
}

// Adapters groups the three stage capabilities.
type Adapters struct {
	Inventory integration.InventoryCreator
	Stock     integration.StockSupplier
	Listing   integration.ListingCreator
}

// ConveyorConfig holds settings for the pipeline itself.
type ConveyorConfig struct {
	SupplyQuantity int
}

// Conveyor drives one product at a time through inventory, stock and listing.
// It is the only writer of pipeline status, stage flags and the diagnostic log.
type Conveyor struct {
	store          ProductStore
	adapters       Adapters
	guard          InFlightGuard
	limiter        *rate.Limiter
	metrics        *Metrics
	supplyQuantity int
}

// NewConveyor creates the orchestrator.
// Parameters:
//   - store: item store.
//   - adapters: stage capabilities, all required.
//   - guard: per-product exclusion shared with the run loop.
//   - limiter: pacing shared by the run loop and force-sync.
//   - metrics: optional collectors; nil disables metrics.
//   - cfg: pipeline settings.
//
// Returns:
//   - *Conveyor: ready orchestrator.
func NewConveyor(
	store ProductStore,
	adapters Adapters,
	guard InFlightGuard,
	limiter *rate.Limiter,
	metrics *Metrics,
	cfg *ConveyorConfig,
) *Conveyor {
	quantity := 1
	if cfg != nil && cfg.SupplyQuantity > 0 {
		quantity = cfg.SupplyQuantity
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Conveyor{
		store:          store,
		adapters:       adapters,
		guard:          guard,
		limiter:        limiter,
		metrics:        metrics,
		supplyQuantity: quantity,
	}
}

// Advance runs the pending stages of product id.
// Cancelling ctx only matters before the claim: once started, stages and writes run to a
// persisted outcome. Adapters bound their own calls with client timeouts.
//
// Adapter failures never surface as a Go error: they end in Outcome{Status: error}
// with the reason persisted on the product. The returned error is non-nil only for
// ErrProductNotFound and for item store failures (wrapping ErrStore).
func (c *Conveyor) Advance(ctx context.Context, id string) (*Outcome, error) {
	return c.claimAndAdvance(ctx, id, nil)
}

// ForceSync is the operator entry point. It claims id, waits on the shared limiter,
// then advances it regardless of its current status.
func (c *Conveyor) ForceSync(ctx context.Context, id string) (*Outcome, error) {
	ctx = logger.WithField(ctx, logger.FieldTrigger, "manual")

	acquired, err := c.guard.TryAcquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !acquired {
		c.metrics.IncAdvance(OutcomeInFlight)
		return &Outcome{ProductID: id, Status: OutcomeInFlight}, nil
	}
	// Once claimed, the advance must reach a recorded outcome even if the caller goes away.
	work := context.WithoutCancel(ctx)
	defer c.guard.Release(work, id)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return c.advanceClaimed(work, id, nil)
}

// claimAndAdvance is Advance with an optional eligibility re-check applied after the claim.
func (c *Conveyor) claimAndAdvance(ctx context.Context, id string, eligible func(*domain.Product) bool) (*Outcome, error) {
	acquired, err := c.guard.TryAcquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !acquired {
		c.metrics.IncAdvance(OutcomeInFlight)
		return &Outcome{ProductID: id, Status: OutcomeInFlight}, nil
	}
	work := context.WithoutCancel(ctx)
	defer c.guard.Release(work, id)

	return c.advanceClaimed(work, id, eligible)
}

func (c *Conveyor) advanceClaimed(ctx context.Context, id string, eligible func(*domain.Product) bool) (*Outcome, error) {
	start := time.Now()
	ctx = logger.SetProductID(ctx, id)

	p, err := c.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		logger.CtxError(ctx, "Failed to load product: %v", err)
		c.metrics.IncAdvance(OutcomeError)
		return &Outcome{ProductID: id, Status: OutcomeError, Reason: "store: " + err.Error(), Duration: time.Since(start)},
			fmt.Errorf("%w: load %s: %w", ErrStore, id, err)
	}

	if eligible != nil && !eligible(p) {
		return &Outcome{ProductID: id, Status: OutcomeSkipped, Duration: time.Since(start)}, nil
	}

	// persisted mirrors the last state the store accepted.
	persisted := *p

	p.MarkProcessing()
	if err := c.store.SaveState(ctx, p); err != nil {
		return c.storeFailure(ctx, &persisted, start, err)
	}
	persisted = *p

	for _, stage := range domain.Stages {
		if p.StageDone(stage) {
			continue
		}

		stageCtx := logger.SetStage(ctx, string(stage))
		stageStart := time.Now()
		stageErr := c.runStage(stageCtx, stage, p)
		c.metrics.ObserveStage(stage, time.Since(stageStart))

		if stageErr != nil {
			c.metrics.IncStageFailure(stage, integration.ErrorTypeLabel(stageErr))
			p.Fail(string(stage) + ": " + stageErr.Error())
			if err := c.store.SaveState(ctx, p); err != nil {
				return c.storeFailure(ctx, &persisted, start, err)
			}

			logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()}).
				WithOutcome(string(OutcomeError)).
				Warn(stageCtx, "Stage failed: %s", p.LogText())
			c.metrics.IncAdvance(OutcomeError)
			return &Outcome{
				ProductID: id,
				Status:    OutcomeError,
				Reason:    p.LogText(),
				Stage:     stage,
				Duration:  time.Since(start),
			}, nil
		}

		// The last stage's write also carries the done transition.
		p.CompleteStage(stage)
		if p.AllStagesDone() {
			p.Finish()
		}
		if err := c.store.SaveState(ctx, p); err != nil {
			return c.storeFailure(ctx, &persisted, start, err)
		}
		persisted = *p
		logger.CtxDebug(stageCtx, "Stage completed in %s", time.Since(stageStart))
	}

	if p.PipelineStatus != domain.PipelineStatusDone {
		p.Finish()
		if err := c.store.SaveState(ctx, p); err != nil {
			return c.storeFailure(ctx, &persisted, start, err)
		}
	}

	logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()}).
		WithOutcome(string(OutcomeDone)).
		Info(ctx, "Product advanced to done")
	c.metrics.IncAdvance(OutcomeDone)
	return &Outcome{ProductID: id, Status: OutcomeDone, Duration: time.Since(start)}, nil
}

// runStage invokes the adapter for stage. A panicking adapter counts as a failed stage.
func (c *Conveyor) runStage(ctx context.Context, stage domain.Stage, p *domain.Product) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()

	switch stage {
	case domain.StageInventory:
		return c.adapters.Inventory.Create(ctx, p)
	case domain.StageStock:
		return c.adapters.Stock.Supply(ctx, p, c.supplyQuantity)
	case domain.StageListing:
		return c.adapters.Listing.CreateListing(ctx, p)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// storeFailure makes a best-effort attempt to record the store error on top of the last
// persisted state, then reports both the item outcome and the wrapped store error.
func (c *Conveyor) storeFailure(ctx context.Context, p *domain.Product, start time.Time, cause error) (*Outcome, error) {
	logger.FromContext(ctx).WithError(cause).Error("Item store write failed during advance")

	p.Fail("store: " + cause.Error())
	if err := c.store.SaveState(ctx, p); err != nil {
		logger.CtxWarn(ctx, "Could not record store failure on product: %v", err)
	}

	c.metrics.IncAdvance(OutcomeError)
	return &Outcome{
		ProductID: p.ID,
		Status:    OutcomeError,
		Reason:    p.LogText(),
		Duration:  time.Since(start),
	}, fmt.Errorf("%w: save %s: %w", ErrStore, p.ID, cause)
}
