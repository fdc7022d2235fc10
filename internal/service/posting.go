package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// Poster computes the side effects of a final approval. Implementations are
// pure: they return posting references and declarative effects; the store
// applies the effects atomically with the status write, so a failed effect
// rolls the whole approval back and the poster is never re-run against
// applied state.
type Poster[R workflow.Requestable] interface {
	Post(ctx context.Context, rec R, actor workflow.Actor, at time.Time) (*workflow.Postings, []repository.Effect, error)
}

// ── Transactions ──────────────────────────────────────────────────────────────

// TransactionPoster adjusts account balances when a financial transaction is
// finally approved: income credits the target, expense debits the source,
// a transfer does both in the same commit.
type TransactionPoster struct{}

// Post implements Poster.
func (TransactionPoster) Post(_ context.Context, t *repository.Transaction, _ workflow.Actor, at time.Time) (*workflow.Postings, []repository.Effect, error) {
	if t.Amount <= 0 {
		return nil, nil, apperr.Newf(apperr.CodePostingFailed, "transaction %q has non-positive amount", t.ID)
	}

	var effects []repository.Effect
	switch t.Type {
	case repository.TransactionIncome:
		if t.TargetAccountID == nil {
			return nil, nil, apperr.Newf(apperr.CodePostingFailed, "income transaction %q has no target account", t.ID)
		}
		effects = append(effects, repository.BalanceAdjustment{AccountID: *t.TargetAccountID, Delta: t.Amount})

	case repository.TransactionExpense:
		if t.SourceAccountID == nil {
			return nil, nil, apperr.Newf(apperr.CodePostingFailed, "expense transaction %q has no source account", t.ID)
		}
		effects = append(effects, repository.BalanceAdjustment{AccountID: *t.SourceAccountID, Delta: -t.Amount})

	case repository.TransactionTransfer:
		if t.SourceAccountID == nil || t.TargetAccountID == nil {
			return nil, nil, apperr.Newf(apperr.CodePostingFailed, "transfer transaction %q needs source and target accounts", t.ID)
		}
		effects = append(effects,
			repository.BalanceAdjustment{AccountID: *t.SourceAccountID, Delta: -t.Amount},
			repository.BalanceAdjustment{AccountID: *t.TargetAccountID, Delta: t.Amount},
		)

	default:
		return nil, nil, apperr.Newf(apperr.CodePostingFailed, "unknown transaction type %q", t.Type)
	}

	return &workflow.Postings{LedgerApplied: true, PostedAt: at}, effects, nil
}

// ── Job cards ─────────────────────────────────────────────────────────────────

// JobCardPoster issues the job card's materials from inventory, records the
// movement, and spawns an expense transaction for the job's total cost. The
// spawned transaction starts in SUBMITTED status and runs through its own
// independent approval workflow.
type JobCardPoster struct{}

// Post implements Poster.
func (JobCardPoster) Post(_ context.Context, j *repository.JobCard, actor workflow.Actor, at time.Time) (*workflow.Postings, []repository.Effect, error) {
	if j.ExpenseAccountID == "" {
		return nil, nil, apperr.Newf(apperr.CodePostingFailed, "job card %q has no expense account", j.ID)
	}

	postings := &workflow.Postings{PostedAt: at}
	var effects []repository.Effect

	if len(j.Materials) > 0 {
		movementID := uuid.NewString()
		items := make([]repository.MovementItem, 0, len(j.Materials))
		for _, mat := range j.Materials {
			effects = append(effects, repository.StockAdjustment{ItemID: mat.ItemID, Delta: -mat.Quantity})
			items = append(items, repository.MovementItem{ItemID: mat.ItemID, Qty: mat.Quantity})
		}
		effects = append(effects, repository.StockMovement{Movement: &repository.InventoryMovement{
			ID:        movementID,
			Type:      repository.MovementIssue,
			Items:     items,
			JobCardID: &j.ID,
			CreatedBy: workflow.SubmitterRef{UID: actor.UID, Name: actor.DisplayName},
			Note:      fmt.Sprintf("Issued on approval: %s", j.ProjectName),
		}})
		postings.InventoryMovementID = movementID
	}

	refType := repository.ReferenceJobCard
	spawned := &repository.Transaction{
		ID:              uuid.NewString(),
		Type:            repository.TransactionExpense,
		Amount:          j.TotalCost,
		Currency:        j.Currency,
		SourceAccountID: &j.ExpenseAccountID,
		Category:        "Project Materials",
		Description:     fmt.Sprintf("Job card approval: %s", j.ProjectName),
		ReferenceType:   &refType,
		ReferenceID:     &j.ID,
		Date:            at,
	}
	spawned.Status = workflow.StatusSubmitted
	spawned.SubmittedAt = &at
	spawned.SubmittedBy = &workflow.SubmitterRef{UID: "system", Name: "Job Card Posting"}
	spawned.ApprovalTrail = []workflow.TrailEntry{}

	effects = append(effects, repository.SpawnTransaction{Transaction: spawned})
	postings.FinanceTransactionID = spawned.ID

	return postings, effects, nil
}

// ── Variations ────────────────────────────────────────────────────────────────

// VariationPoster issues the variation's inventory lines and spawns an
// expense transaction for the variation's grand total against the chosen
// treasury account.
type VariationPoster struct{}

// Post implements Poster.
func (VariationPoster) Post(_ context.Context, v *repository.Variation, actor workflow.Actor, at time.Time) (*workflow.Postings, []repository.Effect, error) {
	if v.ExpenseAccountID == "" {
		return nil, nil, apperr.Newf(apperr.CodePostingFailed, "variation %q has no expense account", v.ID)
	}

	postings := &workflow.Postings{PostedAt: at}
	var effects []repository.Effect

	if len(v.Items) > 0 {
		movementID := uuid.NewString()
		items := make([]repository.MovementItem, 0, len(v.Items))
		for _, line := range v.Items {
			effects = append(effects, repository.StockAdjustment{ItemID: line.ItemID, Delta: -line.Qty})
			items = append(items, repository.MovementItem{ItemID: line.ItemID, Qty: line.Qty})
		}
		effects = append(effects, repository.StockMovement{Movement: &repository.InventoryMovement{
			ID:        movementID,
			Type:      repository.MovementIssue,
			Items:     items,
			JobCardID: &v.JobCardID,
			RequestID: &v.ID,
			CreatedBy: workflow.SubmitterRef{UID: actor.UID, Name: actor.DisplayName},
			Note:      fmt.Sprintf("Issued on variation %d approval: %s", v.VariationNumber, v.JobCardNumber),
		}})
		postings.InventoryMovementID = movementID
	}

	refType := repository.ReferenceVariation
	spawned := &repository.Transaction{
		ID:              uuid.NewString(),
		Type:            repository.TransactionExpense,
		Amount:          v.Totals.GrandTotal,
		Currency:        v.Currency,
		SourceAccountID: &v.ExpenseAccountID,
		Category:        "Variation Costs",
		Description:     fmt.Sprintf("Variation %d approval: %s", v.VariationNumber, v.JobCardNumber),
		ReferenceType:   &refType,
		ReferenceID:     &v.ID,
		Date:            at,
	}
	spawned.Status = workflow.StatusSubmitted
	spawned.SubmittedAt = &at
	spawned.SubmittedBy = &workflow.SubmitterRef{UID: "system", Name: "Variation Posting"}
	spawned.ApprovalTrail = []workflow.TrailEntry{}

	effects = append(effects, repository.SpawnTransaction{Transaction: spawned})
	postings.FinanceTransactionID = spawned.ID

	return postings, effects, nil
}
