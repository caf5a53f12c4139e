// Package bridge consumes dial requests and drives the voice platform, publishing
// the lifecycle events each call produces.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/metrics"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/telephony"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// EventSink receives the lifecycle events a call produces.
type EventSink interface {
	Publish(ctx context.Context, ev domain.LifecycleEvent) error
}

// Worker places calls for dial requests read from Kafka.
type Worker struct {
	reader   queue.MessageReader
	provider telephony.Provider
	sink     EventSink
	logger   *logger.Logger
	limiter  *rate.Limiter
	timeout  time.Duration
	slots    int
	tracer   trace.Tracer
}

// New creates a bridge worker.
func New(reader queue.MessageReader, provider telephony.Provider, sink EventSink, cfg config.BridgeConfig, lg *logger.Logger) *Worker {
	limit := rate.Inf
	if cfg.DialRate > 0 {
		limit = rate.Limit(cfg.DialRate)
	}
	burst := cfg.DialBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	slots := cfg.Concurrency
	if slots <= 0 {
		slots = 1
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Worker{
		reader:   reader,
		provider: provider,
		sink:     sink,
		logger:   lg.Named("bridge"),
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  timeout,
		slots:    slots,
		tracer:   otel.Tracer("dialer.bridge"),
	}
}

// Run consumes dial requests until ctx is cancelled, then waits for calls in flight.
// A request is committed once it is handed to a call slot, so a restart never
// places the same call twice.
func (w *Worker) Run(ctx context.Context) error {
	var calls errgroup.Group
	calls.SetLimit(w.slots)
	defer func() { _ = calls.Wait() }()

	for {
		m, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("bridge: fetch message", zap.Error(err))
			continue
		}

		msg, err := decode(m)
		if err != nil {
			metrics.DialRequestsTotal.WithLabelValues("invalid").Inc()
			w.logger.Warn("bridge: dropping malformed request", zap.Error(err), zap.Int64("offset", m.Offset))
			w.commit(ctx, m)
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		calls.Go(func() error {
			w.place(ctx, msg)
			return nil
		})
		w.commit(ctx, m)
	}
}

func (w *Worker) commit(ctx context.Context, m kafka.Message) {
	if err := w.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		w.logger.Error("bridge: commit", zap.Error(err), zap.Int64("offset", m.Offset))
	}
}

func decode(m kafka.Message) (queue.DialMessage, error) {
	var msg queue.DialMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return msg, fmt.Errorf("unmarshal dial request: %w", err)
	}
	if msg.ExternalCallID == "" || msg.To == "" {
		return msg, errors.New("dial request missing call id or number")
	}
	return msg, nil
}

func (w *Worker) place(ctx context.Context, msg queue.DialMessage) {
	sctx, span := w.tracer.Start(ctx, "bridge.place_call", trace.WithAttributes(
		attribute.String("call.external_id", msg.ExternalCallID),
		attribute.String("attempt.id", msg.AttemptID.String()),
		attribute.String("campaign.id", msg.CampaignID.String()),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(sctx, w.timeout)
	defer cancel()

	req := telephony.DialRequest{
		AttemptID:  msg.AttemptID,
		CampaignID: msg.CampaignID,
		LeadID:     msg.LeadID,
		To:         msg.To,
		From:       msg.From,
	}
	terminal := false
	emit := func(ctx context.Context, ev domain.LifecycleEvent) error {
		if ev.Type != domain.EventConnected {
			terminal = true
		}
		return w.sink.Publish(ctx, ev)
	}

	err := w.provider.PlaceCall(callCtx, msg.ExternalCallID, req, emit)
	if err == nil {
		metrics.DialRequestsTotal.WithLabelValues("placed").Inc()
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.DialRequestsTotal.WithLabelValues("failed").Inc()
	w.logger.Warn("bridge: place call", zap.Error(err), zap.String("external_call_id", msg.ExternalCallID))
	if terminal {
		return
	}

	// The attempt must not stay open forever; report the call as failed.
	failed := domain.LifecycleEvent{
		ExternalCallID: msg.ExternalCallID,
		Type:           domain.EventFailed,
		Timestamp:      time.Now().UTC(),
		OutcomeCode:    domain.OutcomeNetworkError,
	}
	pubCtx, pubCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer pubCancel()
	if err := w.sink.Publish(pubCtx, failed); err != nil {
		w.logger.Error("bridge: publish failure event", zap.Error(err), zap.String("external_call_id", msg.ExternalCallID))
	}
}
