package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/service/orchestrator"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

type fakeLister struct {
	mu     sync.Mutex
	active []*domain.Campaign
}

func (f *fakeLister) ListActive(context.Context, int) ([]*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Campaign(nil), f.active...), nil
}

func (f *fakeLister) set(ids ...uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = f.active[:0]
	for _, id := range ids {
		f.active = append(f.active, &domain.Campaign{ID: id, IsActive: true})
	}
}

type countingProcessor struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
	busy  uuid.UUID
}

func (p *countingProcessor) Process(_ context.Context, id uuid.UUID) (orchestrator.Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[id]++
	if id == p.busy {
		return orchestrator.Summary{CampaignID: id, Skipped: orchestrator.SkipInProgress}, apperrors.ErrCycleInProgress
	}
	return orchestrator.Summary{CampaignID: id, AttemptsCreated: 1}, nil
}

func (p *countingProcessor) count(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

var fastConfig = config.SchedulerConfig{CycleInterval: 5 * time.Millisecond, ReconcileInterval: time.Hour}

func TestReconcileStartsAndStopsLoops(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	lister := &fakeLister{}
	lister.set(a, b)
	proc := &countingProcessor{calls: map[uuid.UUID]int{}}
	s := New(lister, proc, fastConfig, nil)
	defer s.stopAll()

	ctx := context.Background()
	require.NoError(t, s.Reconcile(ctx))
	assert.ElementsMatch(t, []uuid.UUID{a, b}, s.Running())
	require.Eventually(t, func() bool { return proc.count(a) >= 2 && proc.count(b) >= 2 }, time.Second, time.Millisecond)

	lister.set(b)
	require.NoError(t, s.Reconcile(ctx))
	assert.ElementsMatch(t, []uuid.UUID{b}, s.Running())

	time.Sleep(20 * time.Millisecond)
	stopped := proc.count(a)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, proc.count(a))
	assert.Greater(t, proc.count(b), stopped)
}

func TestLoopKeepsRunningWhenCycleIsBusy(t *testing.T) {
	busy := uuid.New()
	lister := &fakeLister{}
	lister.set(busy)
	proc := &countingProcessor{calls: map[uuid.UUID]int{}, busy: busy}
	s := New(lister, proc, fastConfig, nil)
	defer s.stopAll()

	require.NoError(t, s.Reconcile(context.Background()))
	require.Eventually(t, func() bool { return proc.count(busy) >= 3 }, time.Second, time.Millisecond)
}

func TestRunStopsLoopsOnCancel(t *testing.T) {
	id := uuid.New()
	lister := &fakeLister{}
	lister.set(id)
	proc := &countingProcessor{calls: map[uuid.UUID]int{}}
	s := New(lister, proc, fastConfig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return proc.count(id) >= 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, s.Running())
}
