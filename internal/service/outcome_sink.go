package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/mq"
	"github.com/maheshrc27/postflow/internal/repository"
)

// OutcomeSink receives the aggregate result of every dispatch. Sinks must not
// block for long; they run on the dispatch worker.
type OutcomeSink interface {
	Record(ctx context.Context, outcome *models.DispatchOutcome)
}

// OutcomeSinks fans an outcome out to every sink, isolating their failures.
type OutcomeSinks []OutcomeSink

func (s OutcomeSinks) Record(ctx context.Context, outcome *models.DispatchOutcome) {
	for _, sink := range s {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("outcome sink panicked", "sink", fmt.Sprintf("%T", sink), "panic", r)
				}
			}()
			sink.Record(ctx, outcome)
		}()
	}
}

type logSink struct{}

func NewLogSink() OutcomeSink {
	return logSink{}
}

func (logSink) Record(ctx context.Context, o *models.DispatchOutcome) {
	attrs := []any{
		"post_id", o.PostID,
		"ref", o.Ref.String(),
		"user_id", o.UserID,
		"scheduled_time", o.ScheduledTime,
		"succeeded", o.Succeeded(),
		"failed", o.Failed(),
		"elapsed", o.CompletedAt.Sub(o.StartedAt),
	}
	for _, p := range o.Providers {
		r := o.Results[p]
		if r.Success {
			attrs = append(attrs, strings.ToLower(string(p)), "ok")
		} else {
			attrs = append(attrs, strings.ToLower(string(p)), fmt.Sprintf("%s: %s", r.Kind, r.Error))
		}
	}

	if o.Failed() > 0 {
		slog.Warn("dispatch finished with failures", attrs...)
		return
	}
	slog.Info("dispatch finished", attrs...)
}

type metricsSink struct{}

func NewMetricsSink() OutcomeSink {
	return metricsSink{}
}

func (metricsSink) Record(ctx context.Context, o *models.DispatchOutcome) {
	metrics.DispatchLagSeconds.Observe(o.StartedAt.Sub(o.ScheduledTime).Seconds())
	for _, r := range o.Results {
		kind := string(r.Kind)
		if r.Success {
			kind = "ok"
		}
		metrics.PublishTotal.WithLabelValues(string(r.Provider), kind).Inc()
		metrics.PublishDuration.WithLabelValues(string(r.Provider)).Observe(r.Duration.Seconds())
	}
}

type historySink struct {
	ph repository.PostingHistoryRepository
}

// NewHistorySink writes one posting history row per provider result.
func NewHistorySink(ph repository.PostingHistoryRepository) OutcomeSink {
	return &historySink{ph: ph}
}

func (s *historySink) Record(ctx context.Context, o *models.DispatchOutcome) {
	for _, p := range o.Providers {
		r, ok := o.Results[p]
		if !ok {
			continue
		}
		row := &models.PostingHistory{
			UserID:       o.UserID,
			PostID:       o.PostID,
			PostRef:      o.Ref.String(),
			Provider:     string(p),
			Success:      r.Success,
			ErrorKind:    string(r.Kind),
			ErrorMessage: r.Error,
			DurationMs:   r.Duration.Milliseconds(),
		}
		if _, err := s.ph.Create(ctx, row); err != nil {
			slog.Error("error saving posting history", "ref", o.Ref.String(), "provider", p, "error", err)
		}
	}
}

// EventPublisher is satisfied by *mq.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, msg *mq.Message) error
}

type eventSink struct {
	pub EventPublisher
}

// NewEventSink publishes every outcome as a dispatch.completed event.
func NewEventSink(pub EventPublisher) OutcomeSink {
	return &eventSink{pub: pub}
}

func (s *eventSink) Record(ctx context.Context, o *models.DispatchOutcome) {
	routingKey := "dispatch.completed"
	if o.Failed() > 0 {
		routingKey = "dispatch.failed"
	}
	if err := s.pub.Publish(ctx, routingKey, mq.NewMessage(mq.MessageTypeDispatchCompleted, o)); err != nil {
		slog.Error("error publishing dispatch event", "ref", o.Ref.String(), "error", err)
	}
}
