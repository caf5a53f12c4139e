package recycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/service/recycling"
)

type countingRunner struct {
	runs atomic.Int32
	err  error
}

func (r *countingRunner) Run(context.Context, time.Time) (recycling.Summary, error) {
	r.runs.Add(1)
	return recycling.Summary{Campaigns: 1, Examined: 3, Recycled: 2}, r.err
}

func TestRunTicksUntilCancelled(t *testing.T) {
	runner := &countingRunner{}
	w := New(runner, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunOnceReturnsSummaryOnError(t *testing.T) {
	runner := &countingRunner{err: errors.New("list campaigns")}
	w := New(runner, time.Minute, nil)

	summary := w.RunOnce(context.Background())
	assert.Equal(t, 2, summary.Recycled)
	assert.EqualValues(t, 1, runner.runs.Load())
}
