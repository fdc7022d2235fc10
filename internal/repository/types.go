package repository

import (
	"time"

	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// ── Requestable entities ──────────────────────────────────────────────────────

// TransactionType classifies a financial transaction.
type TransactionType string

const (
	TransactionIncome   TransactionType = "INCOME"
	TransactionExpense  TransactionType = "EXPENSE"
	TransactionTransfer TransactionType = "TRANSFER"
)

// ReferenceType links a transaction back to the record that spawned it.
type ReferenceType string

const (
	ReferenceGeneral   ReferenceType = "GENERAL"
	ReferenceJobCard   ReferenceType = "JOB_CARD"
	ReferenceVariation ReferenceType = "JOB_CARD_VARIATION"
)

// Transaction is a financial transaction awaiting two-stage review. Amounts
// are in cents.
type Transaction struct {
	workflow.Request

	ID              string          `json:"id"`
	Type            TransactionType `json:"type"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	SourceAccountID *string         `json:"sourceAccountId,omitempty"` // EXPENSE, TRANSFER
	TargetAccountID *string         `json:"targetAccountId,omitempty"` // INCOME, TRANSFER
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	ReferenceType   *ReferenceType  `json:"referenceType,omitempty"`
	ReferenceID     *string         `json:"referenceId,omitempty"`
	Date            time.Time       `json:"date"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (t *Transaction) RequestID() string      { return t.ID }
func (t *Transaction) Req() *workflow.Request { return &t.Request }

// JobCardMaterial is one material allocation on a job card.
type JobCardMaterial struct {
	ItemID    string  `json:"itemId"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Quantity  float64 `json:"quantity"`
	UnitCost  int64   `json:"unitCost"`
	TotalCost int64   `json:"totalCost"`
}

// JobCard is a costed job awaiting two-stage review. Final approval issues
// its materials from inventory and spawns an expense transaction.
type JobCard struct {
	workflow.Request

	ID                  string            `json:"id"`
	JobNumber           string            `json:"jobNumber"`
	ProjectName         string            `json:"projectName"`
	Description         string            `json:"description,omitempty"`
	ClientID            string            `json:"clientId"`
	ClientName          string            `json:"clientName"`
	Materials           []JobCardMaterial `json:"materials"`
	TotalCost           int64             `json:"totalCost"`
	Currency            string            `json:"currency"`
	ExpenseAccountID    string            `json:"expenseAccountId"`
	ReturnedMovementIDs []string          `json:"returnedMovementIds,omitempty"`
	Version             int64             `json:"version"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

func (j *JobCard) RequestID() string      { return j.ID }
func (j *JobCard) Req() *workflow.Request { return &j.Request }

// VariationMaterial is one inventory line on a variation.
type VariationMaterial struct {
	ItemID    string  `json:"itemId"`
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Qty       float64 `json:"qty"`
	UnitPrice int64   `json:"unitPrice"`
	LineTotal int64   `json:"lineTotal"`
}

// VariationExpense is one non-inventory expense line on a variation.
type VariationExpense struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// VariationTotals are the computed totals for a variation.
type VariationTotals struct {
	InventoryTotal int64 `json:"inventoryTotal"`
	ExpensesTotal  int64 `json:"expensesTotal"`
	GrandTotal     int64 `json:"grandTotal"`
}

// Variation is a change order against an existing job card, with its own
// independent two-stage review.
type Variation struct {
	workflow.Request

	ID               string              `json:"id"`
	JobCardID        string              `json:"jobCardId"`
	JobCardNumber    string              `json:"jobCardNumber"`
	VariationNumber  int                 `json:"variationNumber"`
	Reason           string              `json:"reason"`
	Notes            *string             `json:"notes,omitempty"`
	Items            []VariationMaterial `json:"items"`
	Expenses         []VariationExpense  `json:"expenses"`
	Totals           VariationTotals     `json:"totals"`
	Currency         string              `json:"currency"`
	ExpenseAccountID string              `json:"expenseAccountId"`
	Version          int64               `json:"version"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

func (v *Variation) RequestID() string      { return v.ID }
func (v *Variation) Req() *workflow.Request { return &v.Request }

// ── Shared resources ──────────────────────────────────────────────────────────

// Account is a treasury account whose balance is only ever mutated by
// posting effects inside an approval commit.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"` // bank | ecocash | cash
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InventoryItem is a stocked item. On-hand quantity is only ever mutated by
// posting effects or the manager return flow.
type InventoryItem struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	OnHandQty float64   `json:"onHandQty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MovementType classifies an inventory movement.
type MovementType string

const (
	MovementIssue  MovementType = "ISSUE"
	MovementReturn MovementType = "RETURN"
)

// MovementItem is one line of an inventory movement.
type MovementItem struct {
	ItemID string  `json:"itemId"`
	Qty    float64 `json:"qty"`
}

// InventoryMovement records a stock issue or return, linked back to the
// record that caused it.
type InventoryMovement struct {
	ID        string                `json:"id"`
	Type      MovementType          `json:"type"`
	Items     []MovementItem        `json:"items"`
	JobCardID *string               `json:"jobCardId,omitempty"`
	RequestID *string               `json:"requestId,omitempty"`
	CreatedBy workflow.SubmitterRef `json:"createdBy"`
	Note      string                `json:"note,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
}
