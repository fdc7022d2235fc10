package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
)

// CreateVariationInput carries the fields a caller supplies when drafting a
// variation against an existing job card.
type CreateVariationInput struct {
	JobCardID        string                         `json:"jobCardId"`
	Reason           string                         `json:"reason"`
	Notes            *string                        `json:"notes,omitempty"`
	Items            []repository.VariationMaterial `json:"items"`
	Expenses         []repository.VariationExpense  `json:"expenses"`
	Currency         string                         `json:"currency"`
	ExpenseAccountID string                         `json:"expenseAccountId"`
}

// VariationStorage is the persistence surface the service needs beyond the
// coordinator's Store.
type VariationStorage interface {
	Create(ctx context.Context, v *repository.Variation) error
	ListByJobCard(ctx context.Context, jobCardID string) ([]*repository.Variation, error)
}

// JobCardReader loads the parent job card a variation is drafted against.
type JobCardReader interface {
	Load(ctx context.Context, id string) (*repository.JobCard, int64, error)
}

// VariationService fronts the variation workflow: draft creation against a
// parent job card, the approval operations (via the embedded coordinator)
// and listing.
type VariationService struct {
	*Coordinator[*repository.Variation]

	store    VariationStorage
	jobCards JobCardReader
	log      zerolog.Logger
}

// NewVariationService creates a new VariationService.
func NewVariationService(
	coord *Coordinator[*repository.Variation],
	store VariationStorage,
	jobCards JobCardReader,
	log zerolog.Logger,
) *VariationService {
	return &VariationService{Coordinator: coord, store: store, jobCards: jobCards, log: log}
}

// Create validates the input against the parent job card and stores a new
// DRAFT variation. Totals are recomputed from the lines; the variation number
// is allocated per job card at insert time.
func (s *VariationService) Create(ctx context.Context, input CreateVariationInput) (*repository.Variation, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return nil, apperr.InvalidInput("reason", "is required")
	}
	if len(input.Items) == 0 && len(input.Expenses) == 0 {
		return nil, apperr.InvalidInput("items", "a variation needs at least one inventory or expense line")
	}
	if strings.TrimSpace(input.Currency) == "" {
		return nil, apperr.InvalidInput("currency", "is required")
	}
	if strings.TrimSpace(input.ExpenseAccountID) == "" {
		return nil, apperr.InvalidInput("expenseAccountId", "is required")
	}

	parent, _, err := s.jobCards.Load(ctx, input.JobCardID)
	if err != nil {
		return nil, err
	}

	if input.Items == nil {
		input.Items = []repository.VariationMaterial{}
	}
	if input.Expenses == nil {
		input.Expenses = []repository.VariationExpense{}
	}

	var inventoryTotal, expensesTotal int64
	for i, line := range input.Items {
		if line.ItemID == "" {
			return nil, apperr.InvalidInput("items", fmt.Sprintf("line %d has no item", i))
		}
		if line.Qty <= 0 {
			return nil, apperr.InvalidInput("items", fmt.Sprintf("line %d has non-positive quantity", i))
		}
		inventoryTotal += line.LineTotal
	}
	for i, exp := range input.Expenses {
		if exp.Amount <= 0 {
			return nil, apperr.InvalidInput("expenses", fmt.Sprintf("line %d has non-positive amount", i))
		}
		expensesTotal += exp.Amount
	}

	v := &repository.Variation{
		JobCardID:        parent.ID,
		JobCardNumber:    parent.JobNumber,
		Reason:           input.Reason,
		Notes:            input.Notes,
		Items:            input.Items,
		Expenses:         input.Expenses,
		Totals:           repository.VariationTotals{InventoryTotal: inventoryTotal, ExpensesTotal: expensesTotal, GrandTotal: inventoryTotal + expensesTotal},
		Currency:         input.Currency,
		ExpenseAccountID: input.ExpenseAccountID,
	}
	if err := s.store.Create(ctx, v); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("variation_id", v.ID).
		Str("job_card_id", v.JobCardID).
		Int("variation_number", v.VariationNumber).
		Int64("grand_total", v.Totals.GrandTotal).
		Msg("Variation drafted")
	return v, nil
}

// ListByJobCard returns all variations for a job card, oldest first.
func (s *VariationService) ListByJobCard(ctx context.Context, jobCardID string) ([]*repository.Variation, error) {
	return s.store.ListByJobCard(ctx, jobCardID)
}
