// Package recycle runs the lead recycling pass on a fixed interval.
package recycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/service/recycling"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Runner performs one recycling pass.
type Runner interface {
	Run(ctx context.Context, now time.Time) (recycling.Summary, error)
}

// Worker triggers a Runner on every tick.
type Worker struct {
	runner   Runner
	interval time.Duration
	logger   *logger.Logger
	clock    func() time.Time
}

// New creates a recycle worker.
func New(runner Runner, interval time.Duration, lg *logger.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Worker{
		runner:   runner,
		interval: interval,
		logger:   lg.Named("recycle"),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a pass immediately and then once per interval until cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single pass and logs its summary.
func (w *Worker) RunOnce(ctx context.Context) recycling.Summary {
	ctx, span := otel.Tracer("dialer.recycle").Start(ctx, "recycling.pass")
	defer span.End()

	summary, err := w.runner.Run(ctx, w.clock())
	span.SetAttributes(
		attribute.Int("recycling.examined", summary.Examined),
		attribute.Int("recycling.recycled", summary.Recycled),
		attribute.Int("recycling.excluded", summary.Excluded),
	)
	if err != nil && ctx.Err() == nil {
		span.RecordError(err)
		w.logger.Error("recycling pass failed", zap.Error(err))
		return summary
	}
	w.logger.Info("recycling pass complete",
		zap.Int("campaigns", summary.Campaigns),
		zap.Int("examined", summary.Examined),
		zap.Int("recycled", summary.Recycled),
		zap.Int("excluded", summary.Excluded),
		zap.Int("errors", summary.Errors))
	return summary
}
