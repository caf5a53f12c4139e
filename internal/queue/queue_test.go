package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/telephony"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestRequestDialPublishesKeyedMessage(t *testing.T) {
	w := &recordingWriter{}
	d := NewDialDispatcherWithWriter(w)
	req := telephony.DialRequest{AttemptID: uuid.New(), CampaignID: uuid.New(), LeadID: uuid.New(), To: "+12125550100"}

	ext, err := d.RequestDial(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, ext)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, ext, string(w.msgs[0].Key))

	var msg DialMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, req.AttemptID, msg.AttemptID)
	assert.Equal(t, req.To, msg.To)
	assert.Equal(t, ext, msg.ExternalCallID)
}

func TestLifecycleMessageRoundTrip(t *testing.T) {
	w := &recordingWriter{}
	p := NewEventPublisherWithWriter(w)
	agent := uuid.New()
	ev := domain.LifecycleEvent{
		ExternalCallID:  "ext-9",
		Type:            domain.EventEnded,
		Timestamp:       time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
		OutcomeCode:     domain.OutcomeAnswered,
		DurationSeconds: 30,
		AgentID:         &agent,
	}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "ext-9", string(w.msgs[0].Key))

	var msg LifecycleMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	got, err := msg.Event()
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestLifecycleMessageRejectsUnknownType(t *testing.T) {
	_, err := LifecycleMessage{ExternalCallID: "x", EventType: "ringing"}.Event()
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
