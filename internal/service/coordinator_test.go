package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/repository"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

var (
	testAccountant = workflow.Actor{UID: "acc-1", DisplayName: "Alice Accountant", Role: workflow.RoleAccountant}
	testManager    = workflow.Actor{UID: "mgr-1", DisplayName: "Mo Manager", Role: workflow.RoleManager}
	testUser       = workflow.Actor{UID: "usr-1", DisplayName: "Uma User", Role: workflow.RoleUser}
)

// memStore is an in-memory Store with the same concurrency contract as the
// Postgres stores: commits are version guarded and loads return copies.
type memStore[R workflow.Requestable] struct {
	mu            sync.Mutex
	recs          map[string]R
	versions      map[string]int64
	applied       [][]repository.Effect
	clone         func(R) R
	conflictsLeft int
	commitErr     error

	// beforeCommit runs once under the lock before the next commit is
	// processed, simulating a concurrent writer.
	beforeCommit func()
}

func newMemStore[R workflow.Requestable](clone func(R) R) *memStore[R] {
	return &memStore[R]{
		recs:     make(map[string]R),
		versions: make(map[string]int64),
		clone:    clone,
	}
}

func (s *memStore[R]) put(rec R) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.RequestID()] = s.clone(rec)
	s.versions[rec.RequestID()] = 1
}

func (s *memStore[R]) Load(_ context.Context, id string) (R, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		var zero R
		return zero, 0, apperr.NotFound("record", id)
	}
	return s.clone(rec), s.versions[id], nil
}

func (s *memStore[R]) Commit(_ context.Context, rec R, expectedVersion int64, effects []repository.Effect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beforeCommit != nil {
		hook := s.beforeCommit
		s.beforeCommit = nil
		hook()
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return apperr.Newf(apperr.CodeConflict, "record %q was modified concurrently", rec.RequestID())
	}
	if _, ok := s.recs[rec.RequestID()]; !ok {
		return apperr.NotFound("record", rec.RequestID())
	}
	if s.versions[rec.RequestID()] != expectedVersion {
		return apperr.Newf(apperr.CodeConflict, "record %q was modified concurrently", rec.RequestID())
	}

	s.recs[rec.RequestID()] = s.clone(rec)
	s.versions[rec.RequestID()]++
	if effects != nil {
		s.applied = append(s.applied, effects)
	}
	return nil
}

func cloneTransaction(t *repository.Transaction) *repository.Transaction {
	c := *t
	c.ApprovalTrail = append([]workflow.TrailEntry(nil), t.ApprovalTrail...)
	if t.Postings != nil {
		p := *t.Postings
		c.Postings = &p
	}
	return &c
}

func cloneJobCard(j *repository.JobCard) *repository.JobCard {
	c := *j
	c.ApprovalTrail = append([]workflow.TrailEntry(nil), j.ApprovalTrail...)
	c.Materials = append([]repository.JobCardMaterial(nil), j.Materials...)
	c.ReturnedMovementIDs = append([]string(nil), j.ReturnedMovementIDs...)
	if j.Postings != nil {
		p := *j.Postings
		c.Postings = &p
	}
	return &c
}

func newTransactionCoordinator(store *memStore[*repository.Transaction], maxRetries int) *Coordinator[*repository.Transaction] {
	c := NewCoordinator[*repository.Transaction]("transaction", store, TransactionPoster{}, nil, zerolog.Nop(), maxRetries)
	c.now = func() time.Time { return time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC) }
	return c
}

func draftExpense(id string, amount int64) *repository.Transaction {
	source := "acc-cash"
	return &repository.Transaction{
		ID:              id,
		Type:            repository.TransactionExpense,
		Amount:          amount,
		Currency:        "USD",
		SourceAccountID: &source,
		Category:        "Fuel",
		Date:            time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Request:         workflow.Request{Status: workflow.StatusDraft},
	}
}

func TestCoordinator_Submit(t *testing.T) {
	t.Run("draft submits cleanly", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		store.put(draftExpense("tx-1", 10000))
		coord := newTransactionCoordinator(store, 3)

		rec, err := coord.Submit(context.Background(), "tx-1", testUser)
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusSubmitted, rec.Status)
		require.NotNil(t, rec.SubmittedBy)
		assert.Equal(t, testUser.UID, rec.SubmittedBy.UID)
		assert.Empty(t, rec.ApprovalTrail)
	})

	t.Run("submitted record cannot be resubmitted", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 10000)
		tx.Status = workflow.StatusSubmitted
		store.put(tx)
		coord := newTransactionCoordinator(store, 3)

		_, err := coord.Submit(context.Background(), "tx-1", testUser)
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})

	t.Run("unknown record", func(t *testing.T) {
		coord := newTransactionCoordinator(newMemStore(cloneTransaction), 3)
		_, err := coord.Submit(context.Background(), "nope", testUser)
		assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	})
}

func TestCoordinator_FullExpenseFlow(t *testing.T) {
	store := newMemStore(cloneTransaction)
	store.put(draftExpense("tx-1", 10000))
	coord := newTransactionCoordinator(store, 3)
	ctx := context.Background()

	_, err := coord.Submit(ctx, "tx-1", testUser)
	require.NoError(t, err)

	rec, err := coord.ApproveAsAccountant(ctx, "tx-1", testAccountant, "looks right")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApprovedByAccountant, rec.Status)
	require.Len(t, rec.ApprovalTrail, 1)
	assert.Equal(t, workflow.StageAccountant, rec.ApprovalTrail[0].Stage)
	assert.Nil(t, rec.Postings)
	assert.Empty(t, store.applied)

	rec, err = coord.ApproveAsManager(ctx, "tx-1", testManager, "")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApprovedFinal, rec.Status)
	require.Len(t, rec.ApprovalTrail, 2)
	assert.Equal(t, workflow.StageManager, rec.ApprovalTrail[1].Stage)
	require.NotNil(t, rec.Postings)
	assert.True(t, rec.Postings.LedgerApplied)

	// Exactly one posting batch: the expense debits its source account once.
	require.Len(t, store.applied, 1)
	require.Len(t, store.applied[0], 1)
	adj, ok := store.applied[0][0].(repository.BalanceAdjustment)
	require.True(t, ok)
	assert.Equal(t, "acc-cash", adj.AccountID)
	assert.Equal(t, int64(-10000), adj.Delta)

	// Applied to a 500.00 balance, the 100.00 expense leaves 400.00.
	balances := map[string]int64{"acc-cash": 50000}
	for _, batch := range store.applied {
		for _, e := range batch {
			if b, ok := e.(repository.BalanceAdjustment); ok {
				balances[b.AccountID] += b.Delta
			}
		}
	}
	assert.Equal(t, int64(40000), balances["acc-cash"])
}

func TestCoordinator_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("rejection requires a note", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusSubmitted
		store.put(tx)
		coord := newTransactionCoordinator(store, 3)

		_, err := coord.RejectAsAccountant(ctx, "tx-1", testAccountant, "  ")
		assert.Equal(t, apperr.CodeValidationFailed, apperr.CodeOf(err))

		rec, _, _ := store.Load(ctx, "tx-1")
		assert.Equal(t, workflow.StatusSubmitted, rec.Status)
	})

	t.Run("rejection is terminal", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusSubmitted
		store.put(tx)
		coord := newTransactionCoordinator(store, 3)

		rec, err := coord.RejectAsAccountant(ctx, "tx-1", testAccountant, "wrong category")
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusRejectedByAccountant, rec.Status)
		require.Len(t, rec.ApprovalTrail, 1)
		assert.Equal(t, "wrong category", rec.ApprovalTrail[0].Note)

		_, err = coord.ApproveAsAccountant(ctx, "tx-1", testAccountant, "")
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
		assert.Empty(t, store.applied)
	})
}

func TestCoordinator_StageOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("manager cannot skip the accountant", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusSubmitted
		store.put(tx)
		coord := newTransactionCoordinator(store, 3)

		_, err := coord.ApproveAsManager(ctx, "tx-1", testManager, "")
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})

	t.Run("wrong role is rejected before any load", func(t *testing.T) {
		coord := newTransactionCoordinator(newMemStore(cloneTransaction), 3)
		_, err := coord.ApproveAsAccountant(ctx, "does-not-matter", testUser, "")
		assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
	})

	t.Run("final approval cannot be repeated", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		store.put(draftExpense("tx-1", 5000))
		coord := newTransactionCoordinator(store, 3)

		_, err := coord.Submit(ctx, "tx-1", testUser)
		require.NoError(t, err)
		_, err = coord.ApproveAsAccountant(ctx, "tx-1", testAccountant, "")
		require.NoError(t, err)
		_, err = coord.ApproveAsManager(ctx, "tx-1", testManager, "")
		require.NoError(t, err)
		require.Len(t, store.applied, 1)

		_, err = coord.ApproveAsManager(ctx, "tx-1", testManager, "")
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
		assert.Len(t, store.applied, 1, "postings must not run twice")
	})
}

func TestCoordinator_ConflictRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("a lost token check is retried", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusSubmitted
		store.put(tx)
		store.conflictsLeft = 1
		coord := newTransactionCoordinator(store, 3)

		rec, err := coord.ApproveAsAccountant(ctx, "tx-1", testAccountant, "")
		require.NoError(t, err)
		assert.Equal(t, workflow.StatusApprovedByAccountant, rec.Status)
		assert.Len(t, rec.ApprovalTrail, 1, "retry must not double the trail entry")
	})

	t.Run("exhausted retries surface as contention", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusSubmitted
		store.put(tx)
		store.conflictsLeft = 100
		coord := newTransactionCoordinator(store, 2)

		_, err := coord.ApproveAsAccountant(ctx, "tx-1", testAccountant, "")
		assert.Equal(t, apperr.CodeContention, apperr.CodeOf(err))
	})

	t.Run("retry re-evaluates the reloaded state", func(t *testing.T) {
		// Another writer finally approves the record between the load and
		// the commit. The conflicted retry must see the terminal state and
		// refuse, not re-apply its stale decision.
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusSubmitted
		store.put(tx)
		coord := newTransactionCoordinator(store, 3)

		store.beforeCommit = func() {
			store.recs["tx-1"].Status = workflow.StatusApprovedFinal
			store.versions["tx-1"]++
		}

		_, err := coord.ApproveAsAccountant(ctx, "tx-1", testAccountant, "")
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
		assert.Empty(t, store.applied)
	})
}

func TestCoordinator_PostingFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("poster error aborts the approval", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.SourceAccountID = nil // poster cannot compute a debit
		tx.Status = workflow.StatusApprovedByAccountant
		store.put(tx)
		coord := newTransactionCoordinator(store, 3)

		_, err := coord.ApproveAsManager(ctx, "tx-1", testManager, "")
		assert.Equal(t, apperr.CodePostingFailed, apperr.CodeOf(err))

		rec, _, _ := store.Load(ctx, "tx-1")
		assert.Equal(t, workflow.StatusApprovedByAccountant, rec.Status)
		assert.Nil(t, rec.Postings)
	})

	t.Run("commit-side posting failure surfaces unchanged", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusApprovedByAccountant
		store.put(tx)
		store.commitErr = apperr.Newf(apperr.CodePostingFailed, "insufficient stock for item %q", "itm-1")
		coord := newTransactionCoordinator(store, 3)

		_, err := coord.ApproveAsManager(ctx, "tx-1", testManager, "")
		assert.Equal(t, apperr.CodePostingFailed, apperr.CodeOf(err))
	})
}

func TestCoordinator_AttachApprovalLetter(t *testing.T) {
	ctx := context.Background()
	letter := workflow.ApprovalLetter{
		RefNo:       "APL-20260502-AB12CD34",
		StoragePath: "letters/transaction/tx-1.pdf",
		URL:         "http://files.local/letters/transaction/tx-1.pdf",
		GeneratedAt: time.Date(2026, 5, 2, 12, 30, 0, 0, time.UTC),
	}

	approvedFinal := func() *memStore[*repository.Transaction] {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusApprovedFinal
		tx.Postings = &workflow.Postings{LedgerApplied: true, PostedAt: time.Now()}
		store.put(tx)
		return store
	}

	t.Run("attaches once", func(t *testing.T) {
		store := approvedFinal()
		coord := newTransactionCoordinator(store, 3)

		rec, err := coord.AttachApprovalLetter(ctx, "tx-1", letter)
		require.NoError(t, err)
		require.NotNil(t, rec.Postings.ApprovalLetter)
		assert.Equal(t, letter.RefNo, rec.Postings.ApprovalLetter.RefNo)

		_, err = coord.AttachApprovalLetter(ctx, "tx-1", letter)
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})

	t.Run("refuses records without postings", func(t *testing.T) {
		store := newMemStore(cloneTransaction)
		tx := draftExpense("tx-1", 5000)
		tx.Status = workflow.StatusSubmitted
		store.put(tx)
		coord := newTransactionCoordinator(store, 3)

		_, err := coord.AttachApprovalLetter(ctx, "tx-1", letter)
		assert.Equal(t, apperr.CodeInvalidState, apperr.CodeOf(err))
	})
}

func TestCoordinator_JobCardFinalApproval(t *testing.T) {
	ctx := context.Background()

	store := newMemStore(cloneJobCard)
	j := &repository.JobCard{
		ID:          "jc-1",
		JobNumber:   "JOB-001",
		ProjectName: "Borehole install",
		Materials: []repository.JobCardMaterial{
			{ItemID: "itm-pipe", Name: "PVC pipe", Quantity: 5, UnitCost: 2000, TotalCost: 10000},
		},
		TotalCost:        10000,
		Currency:         "USD",
		ExpenseAccountID: "acc-cash",
		Request:          workflow.Request{Status: workflow.StatusApprovedByAccountant},
	}
	store.put(j)

	coord := NewCoordinator[*repository.JobCard]("job_card", store, JobCardPoster{}, nil, zerolog.Nop(), 3)
	rec, err := coord.ApproveAsManager(ctx, "jc-1", testManager, "")
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusApprovedFinal, rec.Status)
	require.NotNil(t, rec.Postings)
	assert.NotEmpty(t, rec.Postings.InventoryMovementID)
	assert.NotEmpty(t, rec.Postings.FinanceTransactionID)

	require.Len(t, store.applied, 1)
	effects := store.applied[0]
	require.Len(t, effects, 3)

	stock, ok := effects[0].(repository.StockAdjustment)
	require.True(t, ok)
	assert.Equal(t, "itm-pipe", stock.ItemID)
	assert.Equal(t, -5.0, stock.Delta)

	// Applied to 20 on hand, the 5-unit issue leaves 15.
	onHand := map[string]float64{"itm-pipe": 20}
	onHand[stock.ItemID] += stock.Delta
	assert.Equal(t, 15.0, onHand["itm-pipe"])

	movement, ok := effects[1].(repository.StockMovement)
	require.True(t, ok)
	assert.Equal(t, repository.MovementIssue, movement.Movement.Type)
	assert.Equal(t, rec.Postings.InventoryMovementID, movement.Movement.ID)

	spawn, ok := effects[2].(repository.SpawnTransaction)
	require.True(t, ok)
	spawned := spawn.Transaction
	assert.Equal(t, repository.TransactionExpense, spawned.Type)
	assert.Equal(t, int64(10000), spawned.Amount)
	assert.Equal(t, workflow.StatusSubmitted, spawned.Status)
	assert.Empty(t, spawned.ApprovalTrail, "the spawned expense starts its own workflow")
	require.NotNil(t, spawned.ReferenceType)
	assert.Equal(t, repository.ReferenceJobCard, *spawned.ReferenceType)
	require.NotNil(t, spawned.ReferenceID)
	assert.Equal(t, "jc-1", *spawned.ReferenceID)
	assert.Equal(t, rec.Postings.FinanceTransactionID, spawned.ID)
}
