package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

type jobCardStoreFake struct {
	*memStore[*repository.JobCard]
}

func newJobCardStoreFake() *jobCardStoreFake {
	return &jobCardStoreFake{memStore: newMemStore(cloneJobCard)}
}

func (s *jobCardStoreFake) Create(_ context.Context, j *repository.JobCard) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = workflow.StatusDraft
	}
	j.Version = 1
	s.put(j)
	return nil
}

func (s *jobCardStoreFake) List(_ context.Context, status *workflow.Status, _, _ int) ([]*repository.JobCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.JobCard, 0)
	for _, j := range s.recs {
		if status == nil || j.Status == *status {
			out = append(out, s.clone(j))
		}
	}
	return out, nil
}

type movementsFake struct {
	movements []*repository.InventoryMovement
}

func (f *movementsFake) GetMovementsByJobCard(_ context.Context, _ string) ([]*repository.InventoryMovement, error) {
	return f.movements, nil
}

func issuedMovement(jobCardID string, itemID string, qty float64) *repository.InventoryMovement {
	return &repository.InventoryMovement{
		ID:        uuid.NewString(),
		Type:      repository.MovementIssue,
		Items:     []repository.MovementItem{{ItemID: itemID, Qty: qty}},
		JobCardID: &jobCardID,
	}
}

func newJobCardServiceForTest(store *jobCardStoreFake, movements *movementsFake) *JobCardService {
	coord := NewCoordinator[*repository.JobCard]("job_card", store.memStore, JobCardPoster{}, nil, zerolog.Nop(), 3)
	return NewJobCardService(coord, store, movements, nil, zerolog.Nop(), 3)
}

func approvedJobCard(id string) *repository.JobCard {
	return &repository.JobCard{
		ID:               id,
		JobNumber:        "JOB-001",
		ProjectName:      "Borehole install",
		Materials:        []repository.JobCardMaterial{{ItemID: "itm-pipe", Quantity: 5, UnitCost: 2000, TotalCost: 10000}},
		TotalCost:        10000,
		Currency:         "USD",
		ExpenseAccountID: "acc-cash",
		Request: workflow.Request{
			Status:   workflow.StatusApprovedFinal,
			Postings: &workflow.Postings{InventoryMovementID: "mov-1"},
		},
	}
}

func TestJobCardService_Create(t *testing.T) {
	store := newJobCardStoreFake()
	svc := newJobCardServiceForTest(store, &movementsFake{})
	ctx := context.Background()

	t.Run("totals recomputed from materials", func(t *testing.T) {
		j, err := svc.Create(ctx, CreateJobCardInput{
			JobNumber:   "JOB-001",
			ProjectName: "Borehole install",
			Currency:    "USD",
			Materials: []repository.JobCardMaterial{
				{ItemID: "itm-pipe", Quantity: 5, UnitCost: 2000, TotalCost: 10000},
				{ItemID: "itm-pump", Quantity: 1, UnitCost: 40000, TotalCost: 40000},
			},
			ExpenseAccountID: "acc-cash",
		})
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusDraft, j.Status)
		assert.Equal(t, int64(50000), j.TotalCost)
		assert.NotEmpty(t, j.ID)
	})

	t.Run("validation failures", func(t *testing.T) {
		tests := []struct {
			name  string
			input CreateJobCardInput
		}{
			{"missing job number", CreateJobCardInput{ProjectName: "x", Currency: "USD", ExpenseAccountID: "a"}},
			{"missing project name", CreateJobCardInput{JobNumber: "J", Currency: "USD", ExpenseAccountID: "a"}},
			{"missing currency", CreateJobCardInput{JobNumber: "J", ProjectName: "x", ExpenseAccountID: "a"}},
			{"missing expense account", CreateJobCardInput{JobNumber: "J", ProjectName: "x", Currency: "USD"}},
			{"zero quantity line", CreateJobCardInput{
				JobNumber: "J", ProjectName: "x", Currency: "USD", ExpenseAccountID: "a",
				Materials: []repository.JobCardMaterial{{ItemID: "i", Quantity: 0}},
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Create(ctx, tt.input)
				assert.Equal(t, apperr.CodeValidationFailed, apperr.CodeOf(err))
			})
		}
	})
}

func TestJobCardService_ReturnMaterials(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stock and links the movement", func(t *testing.T) {
		store := newJobCardStoreFake()
		store.put(approvedJobCard("jc-1"))
		movements := &movementsFake{movements: []*repository.InventoryMovement{
			issuedMovement("jc-1", "itm-pipe", 5),
		}}
		svc := newJobCardServiceForTest(store, movements)

		j, err := svc.ReturnMaterials(ctx, "jc-1", testManager, []ReturnLine{{ItemID: "itm-pipe", Qty: 2}})
		require.NoError(t, err)
		require.Len(t, j.ReturnedMovementIDs, 1)

		require.Len(t, store.applied, 1)
		effects := store.applied[0]
		require.Len(t, effects, 2)

		adj := effects[0].(repository.StockAdjustment)
		assert.Equal(t, "itm-pipe", adj.ItemID)
		assert.Equal(t, 2.0, adj.Delta, "returns add stock back")

		movement := effects[1].(repository.StockMovement).Movement
		assert.Equal(t, repository.MovementReturn, movement.Type)
		assert.Equal(t, j.ReturnedMovementIDs[0], movement.ID)
	})

	t.Run("cannot return more than was issued", func(t *testing.T) {
		store := newJobCardStoreFake()
		store.put(approvedJobCard("jc-1"))
		movements := &movementsFake{movements: []*repository.InventoryMovement{
			issuedMovement("jc-1", "itm-pipe", 5),
			{
				ID:        "ret-1",
				Type:      repository.MovementReturn,
				Items:     []repository.MovementItem{{ItemID: "itm-pipe", Qty: 4}},
				JobCardID: strPtr("jc-1"),
			},
		}}
		svc := newJobCardServiceForTest(store, movements)

		// 5 issued, 4 already returned: only 1 is still out.
		_, err := svc.ReturnMaterials(ctx, "jc-1", testManager, []ReturnLine{{ItemID: "itm-pipe", Qty: 2}})
		assert.Equal(t, apperr.CodeValidationFailed, apperr.CodeOf(err))

		_, err = svc.ReturnMaterials(ctx, "jc-1", testManager, []ReturnLine{{ItemID: "itm-pipe", Qty: 1}})
		assert.NoError(t, err)
	})

	t.Run("only managers and admins", func(t *testing.T) {
		store := newJobCardStoreFake()
		store.put(approvedJobCard("jc-1"))
		svc := newJobCardServiceForTest(store, &movementsFake{})

		for _, actor := range []workflow.Actor{testUser, testAccountant} {
			_, err := svc.ReturnMaterials(ctx, "jc-1", actor, []ReturnLine{{ItemID: "itm-pipe", Qty: 1}})
			assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
		}
	})

	t.Run("only finally approved job cards", func(t *testing.T) {
		store := newJobCardStoreFake()
		j := approvedJobCard("jc-1")
		j.Status = workflow.StatusApprovedByAccountant
		store.put(j)
		svc := newJobCardServiceForTest(store, &movementsFake{})

		_, err := svc.ReturnMaterials(ctx, "jc-1", testManager, []ReturnLine{{ItemID: "itm-pipe", Qty: 1}})
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})

	t.Run("variation issues are excluded from the pool", func(t *testing.T) {
		store := newJobCardStoreFake()
		store.put(approvedJobCard("jc-1"))
		movements := &movementsFake{movements: []*repository.InventoryMovement{
			{
				ID:        "var-issue",
				Type:      repository.MovementIssue,
				Items:     []repository.MovementItem{{ItemID: "itm-pipe", Qty: 10}},
				JobCardID: strPtr("jc-1"),
				RequestID: strPtr("var-1"),
			},
		}}
		svc := newJobCardServiceForTest(store, movements)

		_, err := svc.ReturnMaterials(ctx, "jc-1", testManager, []ReturnLine{{ItemID: "itm-pipe", Qty: 1}})
		assert.Equal(t, apperr.CodeValidationFailed, apperr.CodeOf(err))
	})
}

func strPtr(s string) *string { return &s }
