// Package mock simulates a voice platform for local runs and tests.
package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/telephony"
)

// Provider simulates ringing, answering, and hanging up.
type Provider struct {
	answerRate  float64
	failureRate float64
	maxRing     time.Duration
	maxTalk     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider constructs a simulator from bridge configuration.
func NewProvider(cfg config.BridgeConfig) *Provider {
	return NewProviderWithSeed(cfg, time.Now().UnixNano())
}

// NewProviderWithSeed constructs a simulator with deterministic randomness.
func NewProviderWithSeed(cfg config.BridgeConfig, seed int64) *Provider {
	answer := cfg.AnswerRate
	if answer <= 0 {
		answer = 0.6
	}
	return &Provider{
		answerRate:  answer,
		failureRate: cfg.FailureRate,
		maxRing:     cfg.MaxRingTime,
		maxTalk:     cfg.MaxTalkTime,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// PlaceCall simulates one call and emits its lifecycle events in order.
func (p *Provider) PlaceCall(ctx context.Context, externalCallID string, req telephony.DialRequest, emit telephony.EmitFunc) error {
	roll, ring, talk := p.draw()

	if err := sleep(ctx, ring); err != nil {
		return err
	}

	if roll < p.failureRate {
		return emit(ctx, domain.LifecycleEvent{
			ExternalCallID: externalCallID,
			Type:           domain.EventFailed,
			Timestamp:      time.Now().UTC(),
			OutcomeCode:    domain.OutcomeNetworkError,
		})
	}
	if roll >= p.failureRate+p.answerRate*(1-p.failureRate) {
		outcome := domain.OutcomeNoAnswer
		if int(roll*100)%3 == 0 {
			outcome = domain.OutcomeBusy
		}
		return emit(ctx, domain.LifecycleEvent{
			ExternalCallID: externalCallID,
			Type:           domain.EventEnded,
			Timestamp:      time.Now().UTC(),
			OutcomeCode:    outcome,
		})
	}

	if err := emit(ctx, domain.LifecycleEvent{
		ExternalCallID: externalCallID,
		Type:           domain.EventConnected,
		Timestamp:      time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := sleep(ctx, talk); err != nil {
		return err
	}
	return emit(ctx, domain.LifecycleEvent{
		ExternalCallID:  externalCallID,
		Type:            domain.EventEnded,
		Timestamp:       time.Now().UTC(),
		OutcomeCode:     domain.OutcomeAnswered,
		DurationSeconds: max(1, int(talk/time.Second)),
	})
}

func (p *Provider) draw() (float64, time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	roll := p.rng.Float64()
	var ring, talk time.Duration
	if p.maxRing > 0 {
		ring = time.Duration(p.rng.Int63n(int64(p.maxRing)))
	}
	if p.maxTalk > 0 {
		talk = time.Duration(p.rng.Int63n(int64(p.maxTalk)))
	}
	return roll, ring, talk
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
