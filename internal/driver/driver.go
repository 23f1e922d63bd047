// Package driver runs the background generation pipeline: it sweeps active
// instances, claims queued sections from the orchestrator, calls the
// generation and evaluation collaborators, and hands the results back. All
// state mutation stays inside the orchestrator; the driver only moves work.
package driver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/collab"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/observability"
	"github.com/draftforge/draftforge/internal/orchestrator"
	"github.com/draftforge/draftforge/model"
)

const defaultSweepInterval = 2 * time.Second

// Driver owns the worker pool that turns queued sections into reviewed
// content. It implements orchestrator.Resumer so feedback submissions can
// re-drive an instance without the HTTP handler waiting on generation.
type Driver struct {
	controller *orchestrator.Controller
	generator  collab.Generator
	evaluator  collab.Evaluator
	cfg        config.DriverConfig
	logger     *zap.Logger
	metrics    *observability.Metrics

	sem chan struct{}
}

// New creates a driver over the orchestrator and the two collaborators.
func New(c *orchestrator.Controller, gen collab.Generator, eval collab.Evaluator, cfg config.DriverConfig, logger *zap.Logger, metrics *observability.Metrics) *Driver {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Driver{
		controller: c,
		generator:  gen,
		evaluator:  eval,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		sem:        make(chan struct{}, workers),
	}
}

// Run sweeps active instances on the configured interval until the context
// is cancelled. Each instance is driven by at most one worker at a time;
// the orchestrator's instance lock makes concurrent sweeps safe regardless.
func (d *Driver) Run(ctx context.Context) {
	interval := d.cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("driver started",
		zap.Int("workers", cap(d.sem)),
		zap.Duration("sweep_interval", interval),
	)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("driver stopped")
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep drives every active instance once, bounded by the worker pool.
func (d *Driver) sweep(ctx context.Context) {
	ids, err := d.controller.ActiveInstances(ctx)
	if err != nil {
		d.logger.Warn("sweep could not list instances", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(instanceID string) {
			defer wg.Done()
			defer func() { <-d.sem }()
			if err := d.DriveInstance(ctx, instanceID); err != nil {
				d.logger.Warn("instance drive failed",
					zap.String("instance_id", instanceID),
					zap.Error(err),
				)
			}
		}(id)
	}
	wg.Wait()
}

// Resume implements orchestrator.Resumer. The actual drive happens on a
// worker goroutine so the submitting request does not wait out a full
// generation; a saturated pool is reported as a resume failure and the
// instance is picked up by the next sweep after an operator re-drive.
func (d *Driver) Resume(ctx context.Context, instanceID string) error {
	select {
	case d.sem <- struct{}{}:
	default:
		return model.NewUnavailableError("driver worker pool saturated")
	}
	rctx := context.WithoutCancel(ctx)
	go func() {
		defer func() { <-d.sem }()
		if err := d.DriveInstance(rctx, instanceID); err != nil {
			d.logger.Error("resume drive failed",
				zap.String("instance_id", instanceID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// DriveInstance runs one instance as far as it will go: claimed sections
// are generated and evaluated until the pipeline suspends for review, runs
// out of work, or completes. Safe to call on any instance in any state.
func (d *Driver) DriveInstance(ctx context.Context, instanceID string) error {
	for {
		claim, err := d.controller.ClaimNext(ctx, instanceID)
		if err != nil {
			return err
		}
		if claim == nil {
			break
		}
		if err := d.step(ctx, claim); err != nil {
			return err
		}
	}

	done, err := d.controller.FinalizeIfComplete(ctx, instanceID)
	if err != nil || done {
		return err
	}
	_, err = d.controller.SuspendForStale(ctx, instanceID)
	return err
}

// step runs one claimed section through generation and evaluation and
// records the outcome with the orchestrator.
func (d *Driver) step(ctx context.Context, claim *orchestrator.SectionClaim) error {
	ctx, span := observability.StartSpan(ctx, "driver.step",
		observability.AttrInstanceID.String(claim.InstanceID),
		observability.AttrSectionID.String(claim.SectionID),
	)

	content, err := d.generate(ctx, claim)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return d.controller.FailGeneration(ctx, claim.InstanceID, claim.SectionID, err, d.maxAttempts())
	}

	eval, err := d.evaluate(ctx, claim, content)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return d.controller.FailGeneration(ctx, claim.InstanceID, claim.SectionID, err, d.maxAttempts())
	}

	err = d.controller.CompleteGeneration(ctx, claim.InstanceID, claim.SectionID, content, eval)
	observability.EndSpanWithError(span, err)
	return err
}

func (d *Driver) generate(ctx context.Context, claim *orchestrator.SectionClaim) (string, error) {
	ctx, span := observability.StartSpan(ctx, "collaborator.generate",
		observability.AttrInstanceID.String(claim.InstanceID),
		observability.AttrSectionID.String(claim.SectionID),
	)
	start := time.Now()
	content, err := d.generator.Generate(ctx, collab.GenerationRequest{
		InstanceID: claim.InstanceID,
		SectionID:  claim.SectionID,
		Guidance:   claim.Guidance,
	})
	d.metrics.RecordGeneration(time.Since(start), model.CodeOf(err))
	observability.EndSpanWithError(span, err)
	if err != nil {
		d.logger.Warn("generation failed",
			zap.String("instance_id", claim.InstanceID),
			zap.String("section_id", claim.SectionID),
			zap.Int("attempt", claim.Attempt),
			zap.Error(err),
		)
	}
	return content, err
}

func (d *Driver) evaluate(ctx context.Context, claim *orchestrator.SectionClaim, content string) (model.EvaluationResult, error) {
	ctx, span := observability.StartSpan(ctx, "collaborator.evaluate",
		observability.AttrInstanceID.String(claim.InstanceID),
		observability.AttrSectionID.String(claim.SectionID),
	)
	start := time.Now()
	eval, err := d.evaluator.Evaluate(ctx, collab.EvaluationRequest{
		InstanceID: claim.InstanceID,
		SectionID:  claim.SectionID,
		Content:    content,
	})
	d.metrics.RecordEvaluation(time.Since(start), model.CodeOf(err))
	observability.EndSpanWithError(span, err)
	if err != nil {
		d.logger.Warn("evaluation failed",
			zap.String("instance_id", claim.InstanceID),
			zap.String("section_id", claim.SectionID),
			zap.Error(err),
		)
	}
	return eval, err
}

func (d *Driver) maxAttempts() int {
	if d.cfg.MaxGenerationAttempts <= 0 {
		return 1
	}
	return d.cfg.MaxGenerationAttempts
}
