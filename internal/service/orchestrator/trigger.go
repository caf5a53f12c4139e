package orchestrator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// TriggerSummary aggregates one pass over all active campaigns.
type TriggerSummary struct {
	CampaignsProcessed int
	CampaignsSkipped   int
	CampaignsFailed    int
	AttemptsCreated    int
	LeadsQueued        int
	LeadsExcluded      int
	Errors             int
}

func (t *TriggerSummary) add(sum Summary, err error) {
	switch {
	case errors.Is(err, apperrors.ErrCycleInProgress):
		t.CampaignsSkipped++
		return
	case err != nil:
		t.CampaignsFailed++
		t.Errors++
	case sum.Skipped != "":
		t.CampaignsSkipped++
	default:
		t.CampaignsProcessed++
	}
	t.AttemptsCreated += sum.AttemptsCreated
	t.LeadsQueued += sum.LeadsQueued
	t.LeadsExcluded += sum.LeadsExcluded
	t.Errors += sum.Errors
}

// Trigger runs a guarded cycle for every active campaign with bounded parallelism. A
// failing campaign never stops the others, so Trigger reports problems only in the summary.
func (o *Orchestrator) Trigger(ctx context.Context) TriggerSummary {
	var total TriggerSummary
	ctx, span := o.tracer.Start(ctx, "orchestrator.trigger")
	defer span.End()

	campaigns, err := o.campaigns.ListActive(ctx, o.fetchLimit)
	if err != nil {
		total.Errors++
		span.RecordError(err)
		o.logger.Error("orchestrator: list active campaigns", zap.Error(err))
		return total
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workerCount)
	for _, campaign := range campaigns {
		id := campaign.ID
		g.Go(func() error {
			sum, err := o.Process(gctx, id)
			mu.Lock()
			total.add(sum, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("orchestrator: trigger finished",
		zap.Int("campaigns", len(campaigns)),
		zap.Int("processed", total.CampaignsProcessed),
		zap.Int("skipped", total.CampaignsSkipped),
		zap.Int("failed", total.CampaignsFailed),
		zap.Int("attempts", total.AttemptsCreated),
	)
	return total
}
