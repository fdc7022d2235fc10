package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/database"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// VariationStore persists job card variations with optimistic concurrency.
type VariationStore struct {
	db *database.DB
}

// NewVariationStore creates a new VariationStore.
func NewVariationStore(db *database.DB) *VariationStore {
	return &VariationStore{db: db}
}

// Create inserts a new variation in DRAFT status. The variation number is
// allocated per job card at insert time.
func (s *VariationStore) Create(ctx context.Context, v *Variation) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = workflow.StatusDraft
	}

	submittedByJSON, trailJSON, postingsJSON, err := requestColumns(&v.Request)
	if err != nil {
		return err
	}
	itemsJSON, err := marshalJSONB(v.Items, "variation items")
	if err != nil {
		return err
	}
	expensesJSON, err := marshalJSONB(v.Expenses, "variation expenses")
	if err != nil {
		return err
	}
	totalsJSON, err := marshalJSONB(v.Totals, "variation totals")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO job_card_variations
		    (id, job_card_id, job_card_number, variation_number, reason, notes,
		     items, expenses, totals, currency, expense_account_id,
		     status, submitted_by, submitted_at, approval_trail, postings)
		VALUES ($1, $2, $3,
		        COALESCE((SELECT MAX(variation_number) FROM job_card_variations WHERE job_card_id = $2), 0) + 1,
		        $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING variation_number, version, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		v.ID, v.JobCardID, v.JobCardNumber, v.Reason, v.Notes,
		itemsJSON, expensesJSON, totalsJSON, v.Currency, v.ExpenseAccountID,
		v.Status, submittedByJSON, v.SubmittedAt, trailJSON, postingsJSON,
	).Scan(&v.VariationNumber, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create variation")
	}
	return nil
}

// Load retrieves a variation and its concurrency token.
func (s *VariationStore) Load(ctx context.Context, id string) (*Variation, int64, error) {
	query := `
		SELECT id, job_card_id, job_card_number, variation_number, reason, notes,
		       items, expenses, totals, currency, expense_account_id,
		       status, submitted_by, submitted_at, approval_trail, postings,
		       version, created_at, updated_at
		FROM job_card_variations
		WHERE id = $1
	`

	v, err := scanVariation(s.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, 0, apperr.NotFound("variation", id)
	}
	if err != nil {
		return nil, 0, err
	}
	return v, v.Version, nil
}

// Commit writes the record's workflow state and applies effects in one
// transaction, guarded by the expected version.
func (s *VariationStore) Commit(ctx context.Context, v *Variation, expectedVersion int64, effects []Effect) error {
	submittedByJSON, trailJSON, postingsJSON, err := requestColumns(&v.Request)
	if err != nil {
		return err
	}

	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE job_card_variations
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
			v.ID, expectedVersion, v.Status, submittedByJSON, v.SubmittedAt, trailJSON, postingsJSON,
		).Scan(&v.Version)
		if err == pgx.ErrNoRows {
			return commitConflict(ctx, tx, "job_card_variations", "variation", v.ID)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to commit variation")
		}

		return applyEffects(ctx, tx, effects)
	})
}

// ListByJobCard returns all variations for a job card, oldest first.
func (s *VariationStore) ListByJobCard(ctx context.Context, jobCardID string) ([]*Variation, error) {
	query := `
		SELECT id, job_card_id, job_card_number, variation_number, reason, notes,
		       items, expenses, totals, currency, expense_account_id,
		       status, submitted_by, submitted_at, approval_trail, postings,
		       version, created_at, updated_at
		FROM job_card_variations
		WHERE job_card_id = $1
		ORDER BY variation_number ASC
	`

	rows, err := s.db.Query(ctx, query, jobCardID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list variations")
	}
	defer rows.Close()

	variations := make([]*Variation, 0)
	for rows.Next() {
		v, err := scanVariation(rows)
		if err != nil {
			return nil, err
		}
		variations = append(variations, v)
	}
	return variations, nil
}

func scanVariation(row rowScanner) (*Variation, error) {
	v := &Variation{}
	var itemsJSON, expensesJSON, totalsJSON, submittedByJSON, trailJSON, postingsJSON []byte
	err := row.Scan(
		&v.ID, &v.JobCardID, &v.JobCardNumber, &v.VariationNumber, &v.Reason, &v.Notes,
		&itemsJSON, &expensesJSON, &totalsJSON, &v.Currency, &v.ExpenseAccountID,
		&v.Status, &submittedByJSON, &v.SubmittedAt, &trailJSON, &postingsJSON,
		&v.Version, &v.CreatedAt, &v.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan variation")
	}
	if err := unmarshalJSONB(itemsJSON, &v.Items, "variation items"); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(expensesJSON, &v.Expenses, "variation expenses"); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(totalsJSON, &v.Totals, "variation totals"); err != nil {
		return nil, err
	}
	if err := scanRequestColumns(&v.Request, submittedByJSON, trailJSON, postingsJSON); err != nil {
		return nil, err
	}
	return v, nil
}
