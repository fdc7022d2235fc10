package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/client"
	"github.com/techcesstechnology/stanchion-approvals/internal/metrics"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// CreateJobCardInput carries the fields a caller supplies when drafting a
// job card.
type CreateJobCardInput struct {
	JobNumber        string                       `json:"jobNumber"`
	ProjectName      string                       `json:"projectName"`
	Description      string                       `json:"description,omitempty"`
	ClientID         string                       `json:"clientId"`
	ClientName       string                       `json:"clientName"`
	Materials        []repository.JobCardMaterial `json:"materials"`
	Currency         string                       `json:"currency"`
	ExpenseAccountID string                       `json:"expenseAccountId"`
}

// ReturnLine is one item quantity being returned to stock.
type ReturnLine struct {
	ItemID string  `json:"itemId"`
	Qty    float64 `json:"qty"`
}

// JobCardStorage is the persistence surface the service needs beyond the
// coordinator's Store.
type JobCardStorage interface {
	Create(ctx context.Context, j *repository.JobCard) error
	Load(ctx context.Context, id string) (*repository.JobCard, int64, error)
	Commit(ctx context.Context, j *repository.JobCard, expectedVersion int64, effects []repository.Effect) error
	List(ctx context.Context, status *workflow.Status, limit, offset int) ([]*repository.JobCard, error)
}

// MovementReader reads the inventory movements linked to a job card.
type MovementReader interface {
	GetMovementsByJobCard(ctx context.Context, jobCardID string) ([]*repository.InventoryMovement, error)
}

// JobCardService fronts the job card workflow: draft creation, the approval
// operations (via the embedded coordinator), listing, and the post-approval
// material return flow.
type JobCardService struct {
	*Coordinator[*repository.JobCard]

	store      JobCardStorage
	inventory  MovementReader
	events     *client.EventPublisher
	log        zerolog.Logger
	maxRetries int
}

// NewJobCardService creates a new JobCardService.
func NewJobCardService(
	coord *Coordinator[*repository.JobCard],
	store JobCardStorage,
	inventory MovementReader,
	events *client.EventPublisher,
	log zerolog.Logger,
	maxRetries int,
) *JobCardService {
	return &JobCardService{
		Coordinator: coord,
		store:       store,
		inventory:   inventory,
		events:      events,
		log:         log,
		maxRetries:  maxRetries,
	}
}

// Create validates the input and stores a new DRAFT job card. The total cost
// is recomputed from the material lines.
func (s *JobCardService) Create(ctx context.Context, input CreateJobCardInput) (*repository.JobCard, error) {
	if strings.TrimSpace(input.JobNumber) == "" {
		return nil, apperr.InvalidInput("jobNumber", "is required")
	}
	if strings.TrimSpace(input.ProjectName) == "" {
		return nil, apperr.InvalidInput("projectName", "is required")
	}
	if strings.TrimSpace(input.Currency) == "" {
		return nil, apperr.InvalidInput("currency", "is required")
	}
	if strings.TrimSpace(input.ExpenseAccountID) == "" {
		return nil, apperr.InvalidInput("expenseAccountId", "is required")
	}

	if input.Materials == nil {
		input.Materials = []repository.JobCardMaterial{}
	}
	var total int64
	for i, mat := range input.Materials {
		if mat.ItemID == "" {
			return nil, apperr.InvalidInput("materials", fmt.Sprintf("line %d has no item", i))
		}
		if mat.Quantity <= 0 {
			return nil, apperr.InvalidInput("materials", fmt.Sprintf("line %d has non-positive quantity", i))
		}
		total += mat.TotalCost
	}

	j := &repository.JobCard{
		JobNumber:        input.JobNumber,
		ProjectName:      input.ProjectName,
		Description:      input.Description,
		ClientID:         input.ClientID,
		ClientName:       input.ClientName,
		Materials:        input.Materials,
		TotalCost:        total,
		Currency:         input.Currency,
		ExpenseAccountID: input.ExpenseAccountID,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("job_card_id", j.ID).
		Str("job_number", j.JobNumber).
		Int64("total_cost", j.TotalCost).
		Msg("Job card drafted")
	return j, nil
}

// List returns job cards, newest first, optionally filtered by status.
func (s *JobCardService) List(ctx context.Context, status *workflow.Status, limit, offset int) ([]*repository.JobCard, error) {
	if status != nil && !status.IsValid() {
		return nil, apperr.InvalidInput("status", "unknown status filter")
	}
	return s.store.List(ctx, status, limit, offset)
}

// GetMovements returns all inventory movements linked to a job card.
func (s *JobCardService) GetMovements(ctx context.Context, jobCardID string) ([]*repository.InventoryMovement, error) {
	return s.inventory.GetMovementsByJobCard(ctx, jobCardID)
}

// ReturnMaterials puts unused materials from a finally-approved job card back
// into stock. Only a manager or admin may do this. Returned quantities are
// capped at what the job actually drew, net of earlier returns; the stock
// adjustments and the RETURN movement commit atomically with the job card's
// returned-movement link.
func (s *JobCardService) ReturnMaterials(ctx context.Context, jobCardID string, actor workflow.Actor, lines []ReturnLine) (*repository.JobCard, error) {
	if actor.Role != workflow.RoleManager && actor.Role != workflow.RoleAdmin {
		return nil, apperr.Newf(apperr.CodeForbidden, "role %s cannot return job card materials", actor.Role)
	}
	if len(lines) == 0 {
		return nil, apperr.InvalidInput("lines", "at least one return line is required")
	}
	for i, line := range lines {
		if line.ItemID == "" {
			return nil, apperr.InvalidInput("lines", fmt.Sprintf("line %d has no item", i))
		}
		if line.Qty <= 0 {
			return nil, apperr.InvalidInput("lines", fmt.Sprintf("line %d has non-positive quantity", i))
		}
	}

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		j, version, err := s.store.Load(ctx, jobCardID)
		if err != nil {
			return nil, err
		}
		if j.Status != workflow.StatusApprovedFinal {
			return nil, apperr.Newf(apperr.CodeInvalidState,
				"job card %q is not finally approved", jobCardID)
		}

		returnable, err := s.returnableQuantities(ctx, j)
		if err != nil {
			return nil, err
		}

		movementID := uuid.NewString()
		effects := make([]repository.Effect, 0, len(lines)+1)
		items := make([]repository.MovementItem, 0, len(lines))
		for _, line := range lines {
			if line.Qty > returnable[line.ItemID] {
				return nil, apperr.InvalidInput("lines", fmt.Sprintf(
					"item %q: return of %.2f exceeds the %.2f still issued", line.ItemID, line.Qty, returnable[line.ItemID]))
			}
			effects = append(effects, repository.StockAdjustment{ItemID: line.ItemID, Delta: line.Qty})
			items = append(items, repository.MovementItem{ItemID: line.ItemID, Qty: line.Qty})
		}
		effects = append(effects, repository.StockMovement{Movement: &repository.InventoryMovement{
			ID:        movementID,
			Type:      repository.MovementReturn,
			Items:     items,
			JobCardID: &j.ID,
			CreatedBy: workflow.SubmitterRef{UID: actor.UID, Name: actor.DisplayName},
			Note:      fmt.Sprintf("Unused materials returned: %s", j.ProjectName),
		}})

		j.ReturnedMovementIDs = append(j.ReturnedMovementIDs, movementID)

		if err := s.store.Commit(ctx, j, version, effects); err != nil {
			if apperr.IsCode(err, apperr.CodeConflict) {
				metrics.CommitConflicts.WithLabelValues("job_card").Inc()
				continue
			}
			return nil, err
		}

		s.log.Info().
			Str("job_card_id", j.ID).
			Str("movement_id", movementID).
			Int("lines", len(items)).
			Str("returned_by", actor.UID).
			Msg("Job card materials returned to stock")
		if s.events != nil {
			s.events.PublishRequestEvent(ctx, "materials_returned", "job_card", j.ID, actor, j.Status,
				map[string]any{"movement_id": movementID})
		}
		return j, nil
	}

	return nil, apperr.Newf(apperr.CodeContention,
		"material return on job card %q exhausted %d retries", jobCardID, s.maxRetries)
}

// returnableQuantities computes, per item, how much of the job's issued
// stock has not yet been returned.
func (s *JobCardService) returnableQuantities(ctx context.Context, j *repository.JobCard) (map[string]float64, error) {
	movements, err := s.inventory.GetMovementsByJobCard(ctx, j.ID)
	if err != nil {
		return nil, err
	}

	returnable := make(map[string]float64)
	for _, m := range movements {
		// Variation issues carry their own request link and are returned
		// through their own flow.
		if m.RequestID != nil {
			continue
		}
		for _, item := range m.Items {
			switch m.Type {
			case repository.MovementIssue:
				returnable[item.ItemID] += item.Qty
			case repository.MovementReturn:
				returnable[item.ItemID] -= item.Qty
			}
		}
	}
	return returnable, nil
}
