package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradestream/internal/domain/model"
)

func TestTradeRepoListOpen(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "ref", "account_id", "user_id", "pair", "side", "lot", "leverage",
		"open_price", "stop_loss", "take_profit", "margin", "status", "opened_at"}).
		AddRow(1, "T-1", 10, 100, "btc/usd", "buy", 1.0, 100.0, 50000.0, 49000.0, nil, 500.0, "open", now).
		AddRow(2, "T-2", 10, 100, "ETH/USD", "sell", 2.0, 50.0, 3000.0, nil, 2800.0, 120.0, "open", now)
	mock.ExpectQuery(`SELECT .+ FROM trades WHERE status = 'open' ORDER BY id`).WillReturnRows(rows)

	repo := NewTradeRepo(db)
	got, err := repo.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(got))
	}
	if got[0].Pair != "BTC/USD" || got[0].StopLoss != 49000 || got[0].TakeProfit != 0 {
		t.Errorf("unexpected first position: %+v", got[0])
	}
	if got[1].Side != model.SideSell || got[1].TakeProfit != 2800 {
		t.Errorf("unexpected second position: %+v", got[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepoCloseTrade(t *testing.T) {
	closedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	req := model.CloseRequest{TradeID: 7, ClosePrice: 51000, Profit: 12.5, Reason: model.CloseTakeProfit, ClosedAt: closedAt}

	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "closes and credits",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT .+ FROM trades WHERE id = \$1 FOR UPDATE`).
					WithArgs(int64(7)).
					WillReturnRows(sqlmock.NewRows([]string{"ref", "account_id", "user_id", "pair", "status"}).
						AddRow("T-7", 3, 30, "BTC/USD", "open"))
				mock.ExpectExec(`UPDATE trades SET status = 'closed'`).
					WithArgs("take_profit", 51000.0, 12.5, closedAt, int64(7)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(`UPDATE accounts SET balance = balance \+ \$1`).
					WithArgs(12.5, int64(3)).
					WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1012.5))
				mock.ExpectCommit()
			},
		},
		{
			name: "already closed",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT .+ FROM trades WHERE id = \$1 FOR UPDATE`).
					WithArgs(int64(7)).
					WillReturnRows(sqlmock.NewRows([]string{"ref", "account_id", "user_id", "pair", "status"}).
						AddRow("T-7", 3, 30, "BTC/USD", "closed"))
				mock.ExpectRollback()
			},
			wantErr: model.ErrTradeAlreadyClosed,
		},
		{
			name: "credit fails rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT .+ FROM trades WHERE id = \$1 FOR UPDATE`).
					WithArgs(int64(7)).
					WillReturnRows(sqlmock.NewRows([]string{"ref", "account_id", "user_id", "pair", "status"}).
						AddRow("T-7", 3, 30, "BTC/USD", "open"))
				mock.ExpectExec(`UPDATE trades SET status = 'closed'`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(`UPDATE accounts`).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: errors.New("any"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()
			tt.mockSetup(mock)

			ct, err := NewTradeRepo(db).CloseTrade(context.Background(), req)
			switch {
			case tt.wantErr == nil:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if ct.Balance != 1012.5 || ct.AccountID != 3 || ct.UserID != 30 || ct.Reason != model.CloseTakeProfit {
					t.Errorf("unexpected closed trade: %+v", ct)
				}
			case errors.Is(tt.wantErr, model.ErrTradeAlreadyClosed):
				if !errors.Is(err, model.ErrTradeAlreadyClosed) {
					t.Fatalf("expected ErrTradeAlreadyClosed, got %v", err)
				}
			default:
				if err == nil {
					t.Fatal("expected error, got nil")
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
