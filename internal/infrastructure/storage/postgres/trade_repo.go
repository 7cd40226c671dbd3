package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

const tradeColumns = `id, ref, account_id, user_id, pair, side, lot, leverage, open_price,
  stop_loss, take_profit, margin, status, opened_at`

type TradeRepo struct {
	db *sql.DB
}

func NewTradeRepo(db *sql.DB) *TradeRepo {
	return &TradeRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(s rowScanner) (*model.Position, error) {
	var (
		p      model.Position
		sl, tp sql.NullFloat64
		side   string
		status string
	)
	if err := s.Scan(&p.ID, &p.Ref, &p.AccountID, &p.UserID, &p.Pair, &side, &p.Lot, &p.Leverage,
		&p.OpenPrice, &sl, &tp, &p.Margin, &status, &p.OpenedAt); err != nil {
		return nil, err
	}
	p.Side = model.Side(side)
	p.Status = model.TradeStatus(status)
	p.StopLoss = nullFloat(sl)
	p.TakeProfit = nullFloat(tp)
	p.Pair = model.NormalizePair(p.Pair)
	return &p, nil
}

func (r *TradeRepo) list(ctx context.Context, query string, args ...any) ([]*model.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *TradeRepo) ListOpen(ctx context.Context) ([]*model.Position, error) {
	return r.list(ctx, `SELECT `+tradeColumns+` FROM trades WHERE status = 'open' ORDER BY id`)
}

func (r *TradeRepo) ListOpenByAccount(ctx context.Context, accountID int64) ([]*model.Position, error) {
	return r.list(ctx, `SELECT `+tradeColumns+` FROM trades WHERE status = 'open' AND account_id = $1 ORDER BY id`, accountID)
}

func (r *TradeRepo) GetTrade(ctx context.Context, id int64) (*model.Position, error) {
	p, err := scanPosition(r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTradeNotFound
	}
	return p, err
}

// CloseTrade 在一个事务里锁定订单行、标记平仓并把盈亏记入账户
// 已经不是 open 的订单不做任何修改
func (r *TradeRepo) CloseTrade(ctx context.Context, req model.CloseRequest) (*model.ClosedTrade, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin close trade %d: %w", req.TradeID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		ct     = model.ClosedTrade{TradeID: req.TradeID, Reason: req.Reason, Profit: req.Profit, ClosePrice: req.ClosePrice}
		status string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT ref, account_id, user_id, pair, status FROM trades WHERE id = $1 FOR UPDATE`, req.TradeID).
		Scan(&ct.Ref, &ct.AccountID, &ct.UserID, &ct.Pair, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock trade %d: %w", req.TradeID, err)
	}
	if model.TradeStatus(status) != model.TradeOpen {
		return nil, model.ErrTradeAlreadyClosed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE trades SET status = 'closed', close_reason = $1, close_price = $2, profit = $3, closed_at = $4 WHERE id = $5`,
		string(req.Reason), req.ClosePrice, req.Profit, req.ClosedAt, req.TradeID); err != nil {
		return nil, fmt.Errorf("close trade %d: %w", req.TradeID, err)
	}
	if err := tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance`,
		req.Profit, ct.AccountID).Scan(&ct.Balance); err != nil {
		return nil, fmt.Errorf("credit account %d: %w", ct.AccountID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit close trade %d: %w", req.TradeID, err)
	}
	ct.Pair = model.NormalizePair(ct.Pair)
	return &ct, nil
}

var _ port.TradeStore = (*TradeRepo)(nil)
