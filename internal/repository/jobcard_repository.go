package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/database"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// JobCardStore persists job cards with optimistic concurrency.
type JobCardStore struct {
	db *database.DB
}

// NewJobCardStore creates a new JobCardStore.
func NewJobCardStore(db *database.DB) *JobCardStore {
	return &JobCardStore{db: db}
}

// Create inserts a new job card in DRAFT status.
func (s *JobCardStore) Create(ctx context.Context, j *JobCard) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = workflow.StatusDraft
	}
	if j.ReturnedMovementIDs == nil {
		j.ReturnedMovementIDs = []string{}
	}

	submittedByJSON, trailJSON, postingsJSON, err := requestColumns(&j.Request)
	if err != nil {
		return err
	}
	materialsJSON, err := marshalJSONB(j.Materials, "materials")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO job_cards
		    (id, job_number, project_name, description, client_id, client_name,
		     materials, total_cost, currency, expense_account_id, returned_movement_ids,
		     status, submitted_by, submitted_at, approval_trail, postings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING version, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		j.ID, j.JobNumber, j.ProjectName, j.Description, j.ClientID, j.ClientName,
		materialsJSON, j.TotalCost, j.Currency, j.ExpenseAccountID, j.ReturnedMovementIDs,
		j.Status, submittedByJSON, j.SubmittedAt, trailJSON, postingsJSON,
	).Scan(&j.Version, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create job card")
	}
	return nil
}

// Load retrieves a job card and its concurrency token.
func (s *JobCardStore) Load(ctx context.Context, id string) (*JobCard, int64, error) {
	query := `
		SELECT id, job_number, project_name, description, client_id, client_name,
		       materials, total_cost, currency, expense_account_id, returned_movement_ids,
		       status, submitted_by, submitted_at, approval_trail, postings,
		       version, created_at, updated_at
		FROM job_cards
		WHERE id = $1
	`

	j, err := scanJobCard(s.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, 0, apperr.NotFound("job_card", id)
	}
	if err != nil {
		return nil, 0, err
	}
	return j, j.Version, nil
}

// Commit writes the record's workflow state, returned-movement links and
// applies effects in one transaction, guarded by the expected version.
func (s *JobCardStore) Commit(ctx context.Context, j *JobCard, expectedVersion int64, effects []Effect) error {
	submittedByJSON, trailJSON, postingsJSON, err := requestColumns(&j.Request)
	if err != nil {
		return err
	}

	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE job_cards
			SET status                = $3,
			    submitted_by          = $4,
			    submitted_at          = $5,
			    approval_trail        = $6,
			    postings              = $7,
			    returned_movement_ids = $8,
			    version               = version + 1,
			    updated_at            = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version
		`

		err := tx.QueryRow(ctx, query,
			j.ID, expectedVersion, j.Status, submittedByJSON, j.SubmittedAt,
			trailJSON, postingsJSON, j.ReturnedMovementIDs,
		).Scan(&j.Version)
		if err == pgx.ErrNoRows {
			return commitConflict(ctx, tx, "job_cards", "job_card", j.ID)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to commit job card")
		}

		return applyEffects(ctx, tx, effects)
	})
}

// List returns job cards, newest first, optionally filtered by status.
func (s *JobCardStore) List(ctx context.Context, status *workflow.Status, limit, offset int) ([]*JobCard, error) {
	query := `
		SELECT id, job_number, project_name, description, client_id, client_name,
		       materials, total_cost, currency, expense_account_id, returned_movement_ids,
		       status, submitted_by, submitted_at, approval_trail, postings,
		       version, created_at, updated_at
		FROM job_cards
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
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list job cards")
	}
	defer rows.Close()

	cards := make([]*JobCard, 0)
	for rows.Next() {
		j, err := scanJobCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, j)
	}
	return cards, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobCard(row rowScanner) (*JobCard, error) {
	j := &JobCard{}
	var materialsJSON, submittedByJSON, trailJSON, postingsJSON []byte
	err := row.Scan(
		&j.ID, &j.JobNumber, &j.ProjectName, &j.Description, &j.ClientID, &j.ClientName,
		&materialsJSON, &j.TotalCost, &j.Currency, &j.ExpenseAccountID, &j.ReturnedMovementIDs,
		&j.Status, &submittedByJSON, &j.SubmittedAt, &trailJSON, &postingsJSON,
		&j.Version, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan job card")
	}
	if err := unmarshalJSONB(materialsJSON, &j.Materials, "materials"); err != nil {
		return nil, err
	}
	if err := scanRequestColumns(&j.Request, submittedByJSON, trailJSON, postingsJSON); err != nil {
		return nil, err
	}
	return j, nil
}
