package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// CreateTransactionInput carries the fields a caller supplies when drafting
// a financial transaction. Amounts are in cents.
type CreateTransactionInput struct {
	Type            repository.TransactionType `json:"type"`
	Amount          int64                      `json:"amount"`
	Currency        string                     `json:"currency"`
	SourceAccountID *string                    `json:"sourceAccountId,omitempty"`
	TargetAccountID *string                    `json:"targetAccountId,omitempty"`
	Category        string                     `json:"category"`
	Description     string                     `json:"description"`
	Date            *time.Time                 `json:"date,omitempty"`
}

// TransactionStorage is the persistence surface the service needs beyond
// the coordinator's Store.
type TransactionStorage interface {
	Create(ctx context.Context, t *repository.Transaction) error
	List(ctx context.Context, status *workflow.Status, limit, offset int) ([]*repository.Transaction, error)
}

// TransactionService fronts the transaction workflow: draft creation, the
// approval operations (via the embedded coordinator) and listing.
type TransactionService struct {
	*Coordinator[*repository.Transaction]

	store TransactionStorage
	log   zerolog.Logger
}

// NewTransactionService creates a new TransactionService.
func NewTransactionService(coord *Coordinator[*repository.Transaction], store TransactionStorage, log zerolog.Logger) *TransactionService {
	return &TransactionService{Coordinator: coord, store: store, log: log}
}

// Create validates the input and stores a new DRAFT transaction.
func (s *TransactionService) Create(ctx context.Context, input CreateTransactionInput) (*repository.Transaction, error) {
	if err := validateTransactionInput(input); err != nil {
		return nil, err
	}

	date := time.Now()
	if input.Date != nil {
		date = *input.Date
	}

	t := &repository.Transaction{
		Type:            input.Type,
		Amount:          input.Amount,
		Currency:        input.Currency,
		SourceAccountID: input.SourceAccountID,
		TargetAccountID: input.TargetAccountID,
		Category:        input.Category,
		Description:     input.Description,
		Date:            date,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("transaction_id", t.ID).
		Str("type", string(t.Type)).
		Int64("amount", t.Amount).
		Msg("Transaction drafted")
	return t, nil
}

// List returns transactions, newest first, optionally filtered by status.
func (s *TransactionService) List(ctx context.Context, status *workflow.Status, limit, offset int) ([]*repository.Transaction, error) {
	if status != nil && !status.IsValid() {
		return nil, apperr.InvalidInput("status", "unknown status filter")
	}
	return s.store.List(ctx, status, limit, offset)
}

func validateTransactionInput(input CreateTransactionInput) error {
	if input.Amount <= 0 {
		return apperr.InvalidInput("amount", "must be positive")
	}
	if strings.TrimSpace(input.Currency) == "" {
		return apperr.InvalidInput("currency", "is required")
	}
	if strings.TrimSpace(input.Category) == "" {
		return apperr.InvalidInput("category", "is required")
	}

	switch input.Type {
	case repository.TransactionIncome:
		if input.TargetAccountID == nil || *input.TargetAccountID == "" {
			return apperr.InvalidInput("targetAccountId", "is required for income")
		}
	case repository.TransactionExpense:
		if input.SourceAccountID == nil || *input.SourceAccountID == "" {
			return apperr.InvalidInput("sourceAccountId", "is required for expenses")
		}
	case repository.TransactionTransfer:
		if input.SourceAccountID == nil || *input.SourceAccountID == "" {
			return apperr.InvalidInput("sourceAccountId", "is required for transfers")
		}
		if input.TargetAccountID == nil || *input.TargetAccountID == "" {
			return apperr.InvalidInput("targetAccountId", "is required for transfers")
		}
		if *input.SourceAccountID == *input.TargetAccountID {
			return apperr.InvalidInput("targetAccountId", "must differ from the source account")
		}
	default:
		return apperr.InvalidInput("type", "must be INCOME, EXPENSE or TRANSFER")
	}
	return nil
}
