package service

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/client"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// AttachFunc attaches an issued letter to one record kind.
type AttachFunc func(ctx context.Context, id string, letter workflow.ApprovalLetter) error

// LetterWorker consumes letter_requested events, asks the issuer to render
// the approval letter, and attaches the resulting reference to the record.
// Failures are logged and dropped; the letter flow is best-effort and never
// touches workflow state beyond the postings reference.
type LetterWorker struct {
	nc     *nats.Conn
	issuer client.LetterIssuer
	attach map[string]AttachFunc
	log    zerolog.Logger
	sub    *nats.Subscription
}

// NewLetterWorker creates a worker over the given attach functions, keyed by
// record kind.
func NewLetterWorker(nc *nats.Conn, issuer client.LetterIssuer, attach map[string]AttachFunc, log zerolog.Logger) *LetterWorker {
	return &LetterWorker{nc: nc, issuer: issuer, attach: attach, log: log}
}

// Start subscribes to letter_requested events for all record kinds.
func (w *LetterWorker) Start() error {
	sub, err := w.nc.Subscribe("approvals.*.letter_requested", w.handle)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to subscribe to letter requests")
	}
	w.sub = sub
	w.log.Info().Msg("Letter worker started")
	return nil
}

// Stop unsubscribes the worker.
func (w *LetterWorker) Stop() {
	if w.sub != nil {
		_ = w.sub.Unsubscribe()
	}
}

func (w *LetterWorker) handle(msg *nats.Msg) {
	var event client.RequestEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		w.log.Warn().Err(err).Str("subject", msg.Subject).Msg("letters: malformed event")
		return
	}

	attach, ok := w.attach[event.Kind]
	if !ok {
		w.log.Warn().Str("kind", event.Kind).Msg("letters: no attach handler for kind")
		return
	}

	ctx := context.Background()
	letter, err := w.issuer.IssueLetter(ctx, event.Kind, event.RequestID)
	if err != nil {
		w.log.Error().Err(err).
			Str("kind", event.Kind).
			Str("request_id", event.RequestID).
			Msg("letters: issue failed")
		return
	}

	if err := attach(ctx, event.RequestID, *letter); err != nil {
		// A letter that raced another attach is already in place; anything
		// else is worth surfacing.
		if apperr.IsCode(err, apperr.CodeInvalidState) {
			w.log.Debug().
				Str("kind", event.Kind).
				Str("request_id", event.RequestID).
				Msg("letters: record no longer accepts a letter")
			return
		}
		w.log.Error().Err(err).
			Str("kind", event.Kind).
			Str("request_id", event.RequestID).
			Msg("letters: attach failed")
		return
	}

	w.log.Info().
		Str("kind", event.Kind).
		Str("request_id", event.RequestID).
		Str("ref_no", letter.RefNo).
		Msg("Approval letter issued and attached")
}
