package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/vasaquant/securities-ingest/internal/metrics"
	"github.com/vasaquant/securities-ingest/pkg/logger"
	"github.com/vasaquant/securities-ingest/pkg/model"
)

// Publisher wraps a NATS connection and provides helpers for publishing canonical events.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	service string
}

// New creates a new Publisher with JetStream enabled if available.
func New(nc *nats.Conn, subject, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		subject: subject,
		service: service,
	}, nil
}

// PublishEnvelope serializes and publishes a canonical event envelope to NATS.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		return err
	}

	if subject == "" {
		subject = p.subject
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.NATSMessagesTotal.WithLabelValues(subject, "error").Inc()
		return err
	}

	metrics.NATSMessagesTotal.WithLabelValues(subject, "ok").Inc()
	return nil
}

// PublishRunReport emits a scrape.run event summarizing one pipeline run.
func (p *Publisher) PublishRunReport(ctx context.Context, report model.RunReport) error {
	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: report.RunID,
		Topic:         p.subject,
		EventType:     "scrape.run",
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	env.Payload = data

	return p.PublishEnvelope(ctx, p.subject, env)
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
