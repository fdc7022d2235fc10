package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// EventPublisher publishes approval workflow events to NATS for downstream
// listeners (dashboards, the notification service, the letter renderer).
//
// Subject convention: approvals.<kind>.<event_type>
// Event types: request_submitted, request_approved, request_rejected,
// request_posted, letter_requested, materials_returned
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so event failures never interrupt approval
// operations.
type EventPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// RequestEvent is the JSON schema published to NATS.
type RequestEvent struct {
	EventType string         `json:"event_type"`
	Kind      string         `json:"kind"`
	RequestID string         `json:"request_id"`
	ActorUID  string         `json:"actor_uid"`
	ActorName string         `json:"actor_name"`
	Status    string         `json:"status,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEventPublisher creates a publisher backed by the given NATS connection.
// A nil connection disables publishing.
func NewEventPublisher(nc *nats.Conn, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{nc: nc, log: log}
}

// PublishRequestEvent publishes one workflow event.
// Subject: approvals.<kind>.<eventType>
func (p *EventPublisher) PublishRequestEvent(ctx context.Context, eventType, kind, requestID string, actor workflow.Actor, status workflow.Status, payload map[string]any) {
	if p.nc == nil {
		return
	}

	event := &RequestEvent{
		EventType: eventType,
		Kind:      kind,
		RequestID: requestID,
		ActorUID:  actor.UID,
		ActorName: actor.DisplayName,
		Status:    string(status),
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("events: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("approvals.%s.%s", kind, eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", requestID).
			Msg("events: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", requestID).
		Msg("events: event published")
}
