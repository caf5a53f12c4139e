// Package status consumes telephony lifecycle events and applies them to call attempts.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/metrics"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Applier applies one lifecycle event. It reports whether the event changed state.
type Applier interface {
	Apply(ctx context.Context, ev domain.LifecycleEvent) (bool, error)
}

// Worker consumes lifecycle events and feeds them to the attempt tracker.
type Worker struct {
	reader     queue.MessageReader
	applier    Applier
	logger     *logger.Logger
	validate   *validator.Validate
	tracer     trace.Tracer
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
}

// New creates a status worker.
func New(reader queue.MessageReader, applier Applier, cfg config.EventsConfig, lg *logger.Logger) *Worker {
	base := cfg.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := cfg.RetryMax
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Worker{
		reader:     reader,
		applier:    applier,
		logger:     lg.Named("status"),
		validate:   validator.New(),
		tracer:     otel.Tracer("dialer.statusworker"),
		maxRetries: cfg.MaxRetries,
		retryBase:  base,
		retryMax:   maxDelay,
	}
}

// Run processes events until the context is cancelled. Events are handled in partition
// order and committed after they are applied or given up on.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("status worker: fetch", zap.Error(err))
			continue
		}

		if err := w.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("status worker: event dropped", zap.Error(err), zap.ByteString("key", msg.Key))
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			w.logger.Error("status worker: commit", zap.Error(err))
		}
	}
}

// Handle decodes and applies one message.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) error {
	var lm queue.LifecycleMessage
	if err := json.Unmarshal(msg.Value, &lm); err != nil {
		metrics.LifecycleEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		return fmt.Errorf("unmarshal lifecycle event: %w", err)
	}
	if err := w.validate.Struct(lm); err != nil {
		metrics.LifecycleEventsTotal.WithLabelValues(lm.EventType, "invalid").Inc()
		return fmt.Errorf("invalid lifecycle event: %w", err)
	}
	ev, err := lm.Event()
	if err != nil {
		metrics.LifecycleEventsTotal.WithLabelValues(lm.EventType, "invalid").Inc()
		return err
	}

	sctx, span := w.tracer.Start(ctx, "call.lifecycle_event", trace.WithAttributes(
		attribute.String("call.external_id", ev.ExternalCallID),
		attribute.String("event.type", string(ev.Type)),
	))
	defer span.End()

	applied, err := w.applyWithRetry(sctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Bool("event.applied", applied))
	return nil
}

// applyWithRetry retries events whose call id is not yet known. The dialer records the
// external id right after the request is accepted, so a fast platform can beat it.
func (w *Worker) applyWithRetry(ctx context.Context, ev domain.LifecycleEvent) (bool, error) {
	for attempt := 0; ; attempt++ {
		applied, err := w.applier.Apply(ctx, ev)
		if err == nil {
			return applied, nil
		}
		if !errors.Is(err, repository.ErrNotFound) || attempt >= w.maxRetries {
			return false, err
		}

		timer := time.NewTimer(w.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.retryBase << attempt
	if delay <= 0 || delay > w.retryMax {
		return w.retryMax
	}
	return delay
}
