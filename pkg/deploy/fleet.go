package deploy

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opengantry/opengantry/pkg/config"
)

// Pipeline is what the fleet runs per target; *Executor satisfies it.
type Pipeline interface {
	Deploy(ctx context.Context) *Result
}

// TargetResult pairs one document with its run result.
type TargetResult struct {
	InstanceID string
	Result     *Result
}

// Fleet fans independent deployments out across targets. Targets share no
// mutable state; each gets its own session, ledger and pipeline. One
// target's failure never aborts the others.
type Fleet struct {
	// Build constructs the pipeline for one document.
	Build func(cfg *config.DeploymentConfig) (Pipeline, error)

	// Parallelism bounds concurrent targets. Zero means no bound.
	Parallelism int

	Log zerolog.Logger
}

// DeployAll runs every document and returns one result per target, in
// input order.
func (f *Fleet) DeployAll(ctx context.Context, configs []*config.DeploymentConfig) []TargetResult {
	results := make([]TargetResult, len(configs))

	g, ctx := errgroup.WithContext(ctx)
	if f.Parallelism > 0 {
		g.SetLimit(f.Parallelism)
	}

	for i, cfg := range configs {
		g.Go(func() error {
			id := cfg.Target.InstanceID
			pipeline, err := f.Build(cfg)
			if err != nil {
				results[i] = TargetResult{InstanceID: id, Result: &Result{
					Outcome:     OutcomeFatal,
					Diagnostics: "pipeline construction failed: " + err.Error(),
					Err:         err,
				}}
				return nil
			}
			f.Log.Info().Str("instance", id).Msg("starting deployment")
			results[i] = TargetResult{InstanceID: id, Result: pipeline.Deploy(ctx)}
			return nil
		})
	}

	// Goroutines never return errors; Wait only joins them.
	_ = g.Wait()
	return results
}
