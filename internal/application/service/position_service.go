package service

import (
	"context"
	"fmt"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

// PositionService reads positions and accounts from the relational store.
type PositionService struct {
	trades   port.TradeStore
	accounts port.AccountStore
}

func NewPositionService(trades port.TradeStore, accounts port.AccountStore) *PositionService {
	return &PositionService{trades: trades, accounts: accounts}
}

func (s *PositionService) ListOpen(ctx context.Context) ([]*model.Position, error) {
	return s.trades.ListOpen(ctx)
}

// AccountWithPositions loads an account together with its open positions.
func (s *PositionService) AccountWithPositions(ctx context.Context, accountID int64) (*model.Account, []*model.Position, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	positions, err := s.trades.ListOpenByAccount(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("load positions of account %d: %w", accountID, err)
	}
	return acct, positions, nil
}

func (s *PositionService) GetTrade(ctx context.Context, id int64) (*model.Position, error) {
	return s.trades.GetTrade(ctx, id)
}

func (s *PositionService) CurrentAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accounts.CurrentAccount(ctx, userID)
}

func (s *PositionService) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.accounts.GetAccount(ctx, id)
}

func (s *PositionService) GetAccounts(ctx context.Context, ids []int64) (map[int64]*model.Account, error) {
	return s.accounts.GetAccounts(ctx, ids)
}
