package service

import (
	"context"
	"errors"
	"testing"

	"tradestream/internal/domain/model"
)

type mockTradeStore struct {
	open []*model.Position
}

func (m *mockTradeStore) ListOpen(ctx context.Context) ([]*model.Position, error) { return m.open, nil }

func (m *mockTradeStore) ListOpenByAccount(ctx context.Context, accountID int64) ([]*model.Position, error) {
	var out []*model.Position
	for _, p := range m.open {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockTradeStore) GetTrade(ctx context.Context, id int64) (*model.Position, error) {
	for _, p := range m.open {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, model.ErrTradeNotFound
}

func (m *mockTradeStore) CloseTrade(ctx context.Context, req model.CloseRequest) (*model.ClosedTrade, error) {
	return nil, model.ErrTradeAlreadyClosed
}

type mockAccountStore struct {
	accounts map[int64]*model.Account
}

func (m *mockAccountStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	if a, ok := m.accounts[id]; ok {
		return a, nil
	}
	return nil, model.ErrAccountNotFound
}

func (m *mockAccountStore) GetAccounts(ctx context.Context, ids []int64) (map[int64]*model.Account, error) {
	out := make(map[int64]*model.Account, len(ids))
	for _, id := range ids {
		if a, ok := m.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (m *mockAccountStore) CurrentAccount(ctx context.Context, userID int64) (*model.Account, error) {
	for _, a := range m.accounts {
		if a.UserID == userID {
			return a, nil
		}
	}
	return nil, model.ErrAccountNotFound
}

func TestPositionServiceAccountWithPositions(t *testing.T) {
	trades := &mockTradeStore{open: []*model.Position{
		{ID: 1, AccountID: 10, Status: model.TradeOpen},
		{ID: 2, AccountID: 11, Status: model.TradeOpen},
		{ID: 3, AccountID: 10, Status: model.TradeOpen},
	}}
	accounts := &mockAccountStore{accounts: map[int64]*model.Account{10: {ID: 10, UserID: 1, Balance: 1000}}}
	svc := NewPositionService(trades, accounts)

	acct, positions, err := svc.AccountWithPositions(context.Background(), 10)
	if err != nil {
		t.Fatalf("AccountWithPositions failed: %v", err)
	}
	if acct.Balance != 1000 || len(positions) != 2 {
		t.Errorf("expected balance 1000 and 2 positions, got %v and %d", acct.Balance, len(positions))
	}

	_, _, err = svc.AccountWithPositions(context.Background(), 99)
	if !errors.Is(err, model.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}
