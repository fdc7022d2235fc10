package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/database"
)

// AccountRepository reads treasury accounts. Balance writes happen only
// through posting effects inside an approval commit; no direct mutation is
// exposed.
type AccountRepository struct {
	db *database.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, name, type, balance, currency, updated_at
		FROM accounts
		WHERE id = $1
	`

	acc := &Account{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&acc.ID, &acc.Name, &acc.Type, &acc.Balance, &acc.Currency, &acc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("account", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get account")
	}
	return acc, nil
}

// GetBalance returns the current balance of an account in cents.
func (r *AccountRepository) GetBalance(ctx context.Context, id string) (int64, error) {
	acc, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// List returns all accounts ordered by name.
func (r *AccountRepository) List(ctx context.Context) ([]*Account, error) {
	query := `
		SELECT id, name, type, balance, currency, updated_at
		FROM accounts
		ORDER BY name
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list accounts")
	}
	defer rows.Close()

	accounts := make([]*Account, 0)
	for rows.Next() {
		acc := &Account{}
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Type, &acc.Balance, &acc.Currency, &acc.UpdatedAt); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan account")
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// adjustBalanceTx changes an account balance within tx. A missing account
// fails the posting so the surrounding commit rolls back.
func adjustBalanceTx(ctx context.Context, tx pgx.Tx, accountID string, delta int64) error {
	query := `
		UPDATE accounts
		SET balance    = balance + $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var id string
	err := tx.QueryRow(ctx, query, accountID, delta).Scan(&id)
	if err == pgx.ErrNoRows {
		return apperr.Newf(apperr.CodePostingFailed, "account %q not found", accountID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodePostingFailed, "failed to adjust account balance")
	}
	return nil
}
