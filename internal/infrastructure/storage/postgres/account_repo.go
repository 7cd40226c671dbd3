package postgres

import (
	"context"
	"database/sql"
	"errors"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) scan(row *sql.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.Leverage, &a.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return r.scan(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, balance, leverage, currency FROM accounts WHERE id = $1`, id))
}

func (r *AccountRepo) GetAccounts(ctx context.Context, ids []int64) (map[int64]*model.Account, error) {
	out := make(map[int64]*model.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, balance, leverage, currency FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Balance, &a.Leverage, &a.Currency); err != nil {
			return nil, err
		}
		out[a.ID] = &a
	}
	return out, rows.Err()
}

// CurrentAccount 返回用户当前选中的账户，没有则取最早的一个
func (r *AccountRepo) CurrentAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return r.scan(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, balance, leverage, currency FROM accounts
WHERE user_id = $1 ORDER BY is_current DESC, id ASC LIMIT 1`, userID))
}

var _ port.AccountStore = (*AccountRepo)(nil)
