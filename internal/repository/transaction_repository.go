package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/database"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// TransactionStore persists financial transactions with optimistic
// concurrency. Every Commit carries the record's loaded version; a stale
// version means another writer won and the commit is rejected.
type TransactionStore struct {
	db *database.DB
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(db *database.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// Create inserts a new transaction in DRAFT status. A missing ID is
// generated.
func (s *TransactionStore) Create(ctx context.Context, t *Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = workflow.StatusDraft
	}
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return insertTransactionTx(ctx, tx, t)
	})
}

// Load retrieves a transaction and its concurrency token.
func (s *TransactionStore) Load(ctx context.Context, id string) (*Transaction, int64, error) {
	query := `
		SELECT id, type, amount, currency, source_account_id, target_account_id,
		       category, description, reference_type, reference_id, date,
		       status, submitted_by, submitted_at, approval_trail, postings,
		       version, created_at, updated_at
		FROM transactions
		WHERE id = $1
	`

	t := &Transaction{}
	var submittedByJSON, trailJSON, postingsJSON []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Type, &t.Amount, &t.Currency, &t.SourceAccountID, &t.TargetAccountID,
		&t.Category, &t.Description, &t.ReferenceType, &t.ReferenceID, &t.Date,
		&t.Status, &submittedByJSON, &t.SubmittedAt, &trailJSON, &postingsJSON,
		&t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, 0, apperr.NotFound("transaction", id)
	}
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to load transaction")
	}
	if err := scanRequestColumns(&t.Request, submittedByJSON, trailJSON, postingsJSON); err != nil {
		return nil, 0, err
	}
	return t, t.Version, nil
}

// Commit writes the record's workflow state and applies effects in one
// transaction, guarded by the expected version.
func (s *TransactionStore) Commit(ctx context.Context, t *Transaction, expectedVersion int64, effects []Effect) error {
	submittedByJSON, trailJSON, postingsJSON, err := requestColumns(&t.Request)
	if err != nil {
		return err
	}

	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE transactions
			SET status         = $3,
			    submitted_by   = $4,
			    submitted_at   = $5,
			    approval_trail = $6,
			    postings       = $7,
			    version        = version + 1,
			    updated_at     = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version
		`

		err := tx.QueryRow(ctx, query,
			t.ID, expectedVersion, t.Status, submittedByJSON, t.SubmittedAt, trailJSON, postingsJSON,
		).Scan(&t.Version)
		if err == pgx.ErrNoRows {
			return commitConflict(ctx, tx, "transactions", "transaction", t.ID)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to commit transaction")
		}

		return applyEffects(ctx, tx, effects)
	})
}

// List returns transactions, newest first, optionally filtered by status.
func (s *TransactionStore) List(ctx context.Context, status *workflow.Status, limit, offset int) ([]*Transaction, error) {
	query := `
		SELECT id, type, amount, currency, source_account_id, target_account_id,
		       category, description, reference_type, reference_id, date,
		       status, submitted_by, submitted_at, approval_trail, postings,
		       version, created_at, updated_at
		FROM transactions
	`
	args := []any{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`
	query += limitOffsetClause(len(args), limit, offset, &args)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list transactions")
	}
	defer rows.Close()

	txs := make([]*Transaction, 0)
	for rows.Next() {
		t := &Transaction{}
		var submittedByJSON, trailJSON, postingsJSON []byte
		err := rows.Scan(
			&t.ID, &t.Type, &t.Amount, &t.Currency, &t.SourceAccountID, &t.TargetAccountID,
			&t.Category, &t.Description, &t.ReferenceType, &t.ReferenceID, &t.Date,
			&t.Status, &submittedByJSON, &t.SubmittedAt, &trailJSON, &postingsJSON,
			&t.Version, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan transaction")
		}
		if err := scanRequestColumns(&t.Request, submittedByJSON, trailJSON, postingsJSON); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, nil
}

// insertTransactionTx inserts a transaction within tx. Also used by the
// SpawnTransaction posting effect so spawned records join the approval
// commit atomically.
func insertTransactionTx(ctx context.Context, tx pgx.Tx, t *Transaction) error {
	submittedByJSON, trailJSON, postingsJSON, err := requestColumns(&t.Request)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions
		    (id, type, amount, currency, source_account_id, target_account_id,
		     category, description, reference_type, reference_id, date,
		     status, submitted_by, submitted_at, approval_trail, postings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING version, created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		t.ID, t.Type, t.Amount, t.Currency, t.SourceAccountID, t.TargetAccountID,
		t.Category, t.Description, t.ReferenceType, t.ReferenceID, t.Date,
		t.Status, submittedByJSON, t.SubmittedAt, trailJSON, postingsJSON,
	).Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create transaction")
	}
	return nil
}
