package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/database"
)

// InventoryRepository reads stocked items and their movements. Stock writes
// happen only through posting effects or the manager return flow, both of
// which run inside a record commit.
type InventoryRepository struct {
	db *database.DB
}

// NewInventoryRepository creates a new InventoryRepository.
func NewInventoryRepository(db *database.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// GetByID retrieves an inventory item by ID.
func (r *InventoryRepository) GetByID(ctx context.Context, id string) (*InventoryItem, error) {
	query := `
		SELECT id, sku, name, unit, on_hand_qty, updated_at
		FROM inventory_items
		WHERE id = $1
	`

	item := &InventoryItem{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID, &item.SKU, &item.Name, &item.Unit, &item.OnHandQty, &item.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("inventory_item", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get inventory item")
	}
	return item, nil
}

// GetOnHand returns the on-hand quantity for an item.
func (r *InventoryRepository) GetOnHand(ctx context.Context, id string) (float64, error) {
	item, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return item.OnHandQty, nil
}

// GetMovementsByJobCard returns all movements linked to a job card,
// oldest first.
func (r *InventoryRepository) GetMovementsByJobCard(ctx context.Context, jobCardID string) ([]*InventoryMovement, error) {
	query := `
		SELECT id, type, items, job_card_id, request_id, created_by, note, created_at
		FROM inventory_movements
		WHERE job_card_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, jobCardID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get inventory movements")
	}
	defer rows.Close()

	movements := make([]*InventoryMovement, 0)
	for rows.Next() {
		m := &InventoryMovement{}
		var itemsJSON, createdByJSON []byte
		var note *string
		err := rows.Scan(&m.ID, &m.Type, &itemsJSON, &m.JobCardID, &m.RequestID, &createdByJSON, &note, &m.CreatedAt)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan inventory movement")
		}
		if err := unmarshalJSONB(itemsJSON, &m.Items, "movement items"); err != nil {
			return nil, err
		}
		if err := unmarshalJSONB(createdByJSON, &m.CreatedBy, "movement creator"); err != nil {
			return nil, err
		}
		if note != nil {
			m.Note = *note
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// adjustStockTx changes an item's on-hand quantity within tx. Deductions are
// guarded so stock never goes negative; a missing item or insufficient stock
// fails the posting and the surrounding commit rolls back.
func adjustStockTx(ctx context.Context, tx pgx.Tx, itemID string, delta float64) error {
	query := `
		UPDATE inventory_items
		SET on_hand_qty = on_hand_qty + $2,
		    updated_at  = NOW()
		WHERE id = $1 AND on_hand_qty + $2 >= 0
		RETURNING id
	`

	var id string
	err := tx.QueryRow(ctx, query, itemID, delta).Scan(&id)
	if err == pgx.ErrNoRows {
		// Distinguish a missing item from insufficient stock for the caller.
		var exists bool
		checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1)`, itemID).Scan(&exists)
		if checkErr == nil && !exists {
			return apperr.Newf(apperr.CodePostingFailed, "inventory item %q not found", itemID)
		}
		return apperr.Newf(apperr.CodePostingFailed, "insufficient stock for item %q", itemID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePostingFailed, "failed to adjust on-hand quantity")
	}
	return nil
}

// insertMovementTx records an inventory movement within tx.
func insertMovementTx(ctx context.Context, tx pgx.Tx, m *InventoryMovement) error {
	itemsJSON, err := marshalJSONB(m.Items, "movement items")
	if err != nil {
		return err
	}
	createdByJSON, err := marshalJSONB(m.CreatedBy, "movement creator")
	if err != nil {
		return err
	}

	query := `
		INSERT INTO inventory_movements (id, type, items, job_card_id, request_id, created_by, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, query,
		m.ID, m.Type, itemsJSON, m.JobCardID, m.RequestID, createdByJSON, m.Note,
	).Scan(&m.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodePostingFailed, "failed to record inventory movement")
	}
	return nil
}
