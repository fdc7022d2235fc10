package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/client"
	"github.com/techcesstechnology/stanchion-approvals/internal/metrics"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// Store is the optimistic-concurrency store a coordinator drives. Commit
// writes the record's workflow state and applies the posting effects in one
// atomic unit; a stale version yields CONFLICT without writing anything.
type Store[R workflow.Requestable] interface {
	Load(ctx context.Context, id string) (R, int64, error)
	Commit(ctx context.Context, rec R, expectedVersion int64, effects []repository.Effect) error
}

// Coordinator is the public entry point of the approval workflow for one
// record kind. The same code is instantiated for transactions, job cards and
// variations.
//
// Every operation runs as: load record and token, run the transition engine,
// compute postings if the record became finally approved, then commit status,
// trail and side effects in one atomic unit. A commit that loses the token
// check is retried from the load, up to maxRetries, then fails CONTENTION.
type Coordinator[R workflow.Requestable] struct {
	kind       string
	store      Store[R]
	poster     Poster[R]
	events     *client.EventPublisher
	log        zerolog.Logger
	maxRetries int
	now        func() time.Time
}

// NewCoordinator creates a coordinator for one record kind.
func NewCoordinator[R workflow.Requestable](
	kind string,
	store Store[R],
	poster Poster[R],
	events *client.EventPublisher,
	log zerolog.Logger,
	maxRetries int,
) *Coordinator[R] {
	return &Coordinator[R]{
		kind:       kind,
		store:      store,
		poster:     poster,
		events:     events,
		log:        log,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Get returns the record with its current status and approval trail.
func (c *Coordinator[R]) Get(ctx context.Context, id string) (R, error) {
	rec, _, err := c.store.Load(ctx, id)
	return rec, err
}

// Submit moves a DRAFT record into SUBMITTED and stamps the submitter.
func (c *Coordinator[R]) Submit(ctx context.Context, id string, actor workflow.Actor) (R, error) {
	var zero R

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		rec, version, err := c.store.Load(ctx, id)
		if err != nil {
			return zero, c.outcome("submit", err)
		}

		req := rec.Req()
		if req.Status != workflow.StatusDraft {
			return zero, c.outcome("submit", apperr.Newf(apperr.CodeInvalidState,
				"cannot submit %s from status %s", c.kind, req.Status))
		}
		req.MarkSubmitted(actor, c.now())

		if err := c.store.Commit(ctx, rec, version, nil); err != nil {
			if apperr.IsCode(err, apperr.CodeConflict) {
				metrics.CommitConflicts.WithLabelValues(c.kind).Inc()
				continue
			}
			return zero, c.outcome("submit", err)
		}

		c.log.Info().
			Str("kind", c.kind).
			Str("id", id).
			Str("submitted_by", actor.UID).
			Msg("Request submitted for approval")
		c.publish(ctx, "request_submitted", rec, actor, nil)
		return rec, c.outcome("submit", nil)
	}

	return zero, c.outcome("submit", apperr.Newf(apperr.CodeContention,
		"submit of %s %q exhausted %d retries", c.kind, id, c.maxRetries))
}

// ApproveAsAccountant records stage-one approval.
func (c *Coordinator[R]) ApproveAsAccountant(ctx context.Context, id string, actor workflow.Actor, note string) (R, error) {
	return c.decide(ctx, id, workflow.ActionApprove, workflow.StageAccountant, actor, note)
}

// RejectAsAccountant records stage-one rejection. A reason is required.
func (c *Coordinator[R]) RejectAsAccountant(ctx context.Context, id string, actor workflow.Actor, note string) (R, error) {
	return c.decide(ctx, id, workflow.ActionReject, workflow.StageAccountant, actor, note)
}

// ApproveAsManager records final approval and triggers postings.
func (c *Coordinator[R]) ApproveAsManager(ctx context.Context, id string, actor workflow.Actor, note string) (R, error) {
	return c.decide(ctx, id, workflow.ActionApprove, workflow.StageManager, actor, note)
}

// RejectAsManager records stage-two rejection. A reason is required.
func (c *Coordinator[R]) RejectAsManager(ctx context.Context, id string, actor workflow.Actor, note string) (R, error) {
	return c.decide(ctx, id, workflow.ActionReject, workflow.StageManager, actor, note)
}

// AttachApprovalLetter stores the reference produced by the asynchronous
// letter issuer. Only finally-approved records with postings accept a letter,
// and only once.
func (c *Coordinator[R]) AttachApprovalLetter(ctx context.Context, id string, letter workflow.ApprovalLetter) (R, error) {
	var zero R

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		rec, version, err := c.store.Load(ctx, id)
		if err != nil {
			return zero, c.outcome("attach_letter", err)
		}

		req := rec.Req()
		if req.Status != workflow.StatusApprovedFinal || req.Postings == nil {
			return zero, c.outcome("attach_letter", apperr.Newf(apperr.CodeInvalidState,
				"%s %q is not finally approved", c.kind, id))
		}
		if req.Postings.ApprovalLetter != nil {
			return zero, c.outcome("attach_letter", apperr.Newf(apperr.CodeInvalidState,
				"%s %q already has an approval letter", c.kind, id))
		}
		req.Postings.ApprovalLetter = &letter

		if err := c.store.Commit(ctx, rec, version, nil); err != nil {
			if apperr.IsCode(err, apperr.CodeConflict) {
				metrics.CommitConflicts.WithLabelValues(c.kind).Inc()
				continue
			}
			return zero, c.outcome("attach_letter", err)
		}

		c.log.Info().
			Str("kind", c.kind).
			Str("id", id).
			Str("ref_no", letter.RefNo).
			Msg("Approval letter attached")
		return rec, c.outcome("attach_letter", nil)
	}

	return zero, c.outcome("attach_letter", apperr.Newf(apperr.CodeContention,
		"letter attach on %s %q exhausted %d retries", c.kind, id, c.maxRetries))
}

// decide runs one approve/reject action through the engine and commits the
// result. Role and note problems are rejected before any load to avoid
// wasted I/O; the engine re-checks both.
func (c *Coordinator[R]) decide(ctx context.Context, id string, action workflow.Action, stage workflow.Stage, actor workflow.Actor, note string) (R, error) {
	var zero R
	op := operationName(action, stage)

	if !workflow.RoleAllowed(stage, actor.Role) {
		return zero, c.outcome(op, apperr.Newf(apperr.CodeForbidden,
			"role %s cannot act at the %s stage", actor.Role, stage))
	}
	if action == workflow.ActionReject && strings.TrimSpace(note) == "" {
		return zero, c.outcome(op, apperr.InvalidInput("note", "a rejection requires a reason"))
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		rec, version, err := c.store.Load(ctx, id)
		if err != nil {
			return zero, c.outcome(op, err)
		}

		req := rec.Req()
		now := c.now()

		newStatus, entry, err := workflow.Transition(req.Status, action, stage, actor, note, now)
		if err != nil {
			return zero, c.outcome(op, err)
		}

		var effects []repository.Effect
		if newStatus == workflow.StatusApprovedFinal {
			postings, eff, err := c.poster.Post(ctx, rec, actor, now)
			if err != nil {
				metrics.PostingFailures.WithLabelValues(c.kind).Inc()
				return zero, c.outcome(op, err)
			}
			req.Postings = postings
			effects = eff
		}

		req.Status = newStatus
		req.AppendTrail(entry)

		if err := c.store.Commit(ctx, rec, version, effects); err != nil {
			if apperr.IsCode(err, apperr.CodeConflict) {
				metrics.CommitConflicts.WithLabelValues(c.kind).Inc()
				continue
			}
			if apperr.IsCode(err, apperr.CodePostingFailed) {
				metrics.PostingFailures.WithLabelValues(c.kind).Inc()
			}
			return zero, c.outcome(op, err)
		}

		c.log.Info().
			Str("kind", c.kind).
			Str("id", id).
			Str("action", string(action)).
			Str("stage", string(stage)).
			Str("new_status", string(newStatus)).
			Str("acted_by", actor.UID).
			Msg("Workflow decision committed")

		switch {
		case newStatus == workflow.StatusApprovedFinal:
			c.publish(ctx, "request_approved", rec, actor, map[string]any{"stage": stage})
			c.publish(ctx, "request_posted", rec, actor, nil)
			c.publish(ctx, "letter_requested", rec, actor, nil)
		case action == workflow.ActionApprove:
			c.publish(ctx, "request_approved", rec, actor, map[string]any{"stage": stage})
		default:
			c.publish(ctx, "request_rejected", rec, actor, map[string]any{"stage": stage, "reason": note})
		}

		return rec, c.outcome(op, nil)
	}

	return zero, c.outcome(op, apperr.Newf(apperr.CodeContention,
		"%s on %s %q exhausted %d retries", op, c.kind, id, c.maxRetries))
}

func (c *Coordinator[R]) publish(ctx context.Context, eventType string, rec R, actor workflow.Actor, payload map[string]any) {
	if c.events == nil {
		return
	}
	c.events.PublishRequestEvent(ctx, eventType, c.kind, rec.RequestID(), actor, rec.Req().Status, payload)
}

// outcome records the operation result metric and passes the error through.
func (c *Coordinator[R]) outcome(op string, err error) error {
	label := "ok"
	if err != nil {
		label = strings.ToLower(string(apperr.CodeOf(err)))
	}
	metrics.Decisions.WithLabelValues(c.kind, op, label).Inc()
	return err
}

func operationName(action workflow.Action, stage workflow.Stage) string {
	op := "approve"
	if action == workflow.ActionReject {
		op = "reject"
	}
	if stage == workflow.StageManager {
		return op + "_as_manager"
	}
	return op + "_as_accountant"
}
