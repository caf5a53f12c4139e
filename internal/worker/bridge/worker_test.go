package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/telephony"
)

type stubReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *stubReader) Close() error { return nil }

func (r *stubReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (s *recordingSink) Publish(_ context.Context, ev domain.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) byCall() map[string][]domain.LifecycleEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]domain.LifecycleEventType{}
	for _, ev := range s.events {
		out[ev.ExternalCallID] = append(out[ev.ExternalCallID], ev.Type)
	}
	return out
}

// scriptedProvider answers every call, except numbers in broken, which error before any event.
type scriptedProvider struct {
	broken map[string]bool
}

func (p scriptedProvider) PlaceCall(ctx context.Context, externalCallID string, req telephony.DialRequest, emit telephony.EmitFunc) error {
	if p.broken[req.To] {
		return errors.New("trunk unavailable")
	}
	if err := emit(ctx, domain.LifecycleEvent{ExternalCallID: externalCallID, Type: domain.EventConnected}); err != nil {
		return err
	}
	return emit(ctx, domain.LifecycleEvent{
		ExternalCallID:  externalCallID,
		Type:            domain.EventEnded,
		OutcomeCode:     domain.OutcomeAnswered,
		DurationSeconds: 12,
	})
}

func dialMessage(t *testing.T, ext, to string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(queue.DialMessage{
		ExternalCallID: ext,
		AttemptID:      uuid.New(),
		CampaignID:     uuid.New(),
		LeadID:         uuid.New(),
		To:             to,
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(ext), Value: value}
}

func TestWorkerPlacesCallsAndPublishesEvents(t *testing.T) {
	reader := &stubReader{pending: []kafka.Message{
		dialMessage(t, "ext-1", "+12015550001"),
		{Value: []byte("not json")},
		dialMessage(t, "ext-2", "+12015550002"),
		dialMessage(t, "ext-3", "+12015550003"),
	}}
	sink := &recordingSink{}
	provider := scriptedProvider{broken: map[string]bool{"+12015550003": true}}
	w := New(reader, provider, sink, config.BridgeConfig{Concurrency: 2, RequestTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == 4 && len(sink.byCall()) == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	calls := sink.byCall()
	assert.Equal(t, []domain.LifecycleEventType{domain.EventConnected, domain.EventEnded}, calls["ext-1"])
	assert.Equal(t, []domain.LifecycleEventType{domain.EventConnected, domain.EventEnded}, calls["ext-2"])
	assert.Equal(t, []domain.LifecycleEventType{domain.EventFailed}, calls["ext-3"])
}

func TestDecodeRejectsIncompleteRequest(t *testing.T) {
	_, err := decode(dialMessage(t, "", "+12015550001"))
	assert.Error(t, err)

	msg, err := decode(dialMessage(t, "ext-7", "+12015550001"))
	require.NoError(t, err)
	assert.Equal(t, "ext-7", msg.ExternalCallID)
}
