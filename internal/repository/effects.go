package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
)

// Effect is one side-effect write computed by a posting executor. Effects are
// applied inside the same transaction as the status commit that authorized
// them; any failure rolls the whole commit back.
type Effect interface {
	effect()
}

// BalanceAdjustment changes an account balance by Delta cents.
type BalanceAdjustment struct {
	AccountID string
	Delta     int64
}

// StockAdjustment changes an inventory item's on-hand quantity by Delta.
// A negative delta is an issue and is rejected when stock is insufficient.
type StockAdjustment struct {
	ItemID string
	Delta  float64
}

// StockMovement records an inventory movement.
type StockMovement struct {
	Movement *InventoryMovement
}

// SpawnTransaction inserts a follow-up transaction that will run through its
// own independent approval workflow.
type SpawnTransaction struct {
	Transaction *Transaction
}

func (BalanceAdjustment) effect() {}
func (StockAdjustment) effect()   {}
func (StockMovement) effect()     {}
func (SpawnTransaction) effect()  {}

// applyEffects executes every effect within tx, in order.
func applyEffects(ctx context.Context, tx pgx.Tx, effects []Effect) error {
	for _, e := range effects {
		var err error
		switch e := e.(type) {
		case BalanceAdjustment:
			err = adjustBalanceTx(ctx, tx, e.AccountID, e.Delta)
		case StockAdjustment:
			err = adjustStockTx(ctx, tx, e.ItemID, e.Delta)
		case StockMovement:
			err = insertMovementTx(ctx, tx, e.Movement)
		case SpawnTransaction:
			err = insertTransactionTx(ctx, tx, e.Transaction)
		default:
			err = apperr.Newf(apperr.CodeInternal, "unknown effect type %T", e)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// marshalJSONB marshals v for a jsonb column.
func marshalJSONB(v any, what string) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to marshal "+what)
	}
	return data, nil
}

// unmarshalJSONB unmarshals a nullable jsonb column into v.
func unmarshalJSONB(data []byte, v any, what string) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal "+what)
	}
	return nil
}
