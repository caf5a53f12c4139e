package mock

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/telephony"
)

func TestPlaceCallEmitsTerminalEvent(t *testing.T) {
	p := NewProviderWithSeed(config.BridgeConfig{AnswerRate: 0.5, FailureRate: 0.1}, 42)
	req := telephony.DialRequest{AttemptID: uuid.New(), To: "+12125550100"}

	for i := 0; i < 50; i++ {
		var events []domain.LifecycleEvent
		err := p.PlaceCall(context.Background(), "ext-1", req, func(_ context.Context, ev domain.LifecycleEvent) error {
			events = append(events, ev)
			return nil
		})
		require.NoError(t, err)
		require.NotEmpty(t, events)

		last := events[len(events)-1]
		assert.Contains(t, []domain.LifecycleEventType{domain.EventEnded, domain.EventFailed}, last.Type)
		if len(events) == 2 {
			assert.Equal(t, domain.EventConnected, events[0].Type)
			assert.Equal(t, domain.OutcomeAnswered, last.OutcomeCode)
			assert.Positive(t, last.DurationSeconds)
		}
		for _, ev := range events {
			assert.Equal(t, "ext-1", ev.ExternalCallID)
		}
	}
}

func TestPlaceCallHonoursCancellation(t *testing.T) {
	p := NewProviderWithSeed(config.BridgeConfig{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.PlaceCall(ctx, "ext-2", telephony.DialRequest{}, func(context.Context, domain.LifecycleEvent) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
