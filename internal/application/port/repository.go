package port

import (
	"context"
	"time"

	"tradestream/internal/domain/model"
)

// TokenVerifier resolves a bearer token to an identity.
// Invalid or expired tokens return model.ErrInvalidToken.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*model.Identity, error)
}

type PermissionChecker interface {
	HasPermission(ctx context.Context, userID int64, perm model.Permission) (bool, error)
}

// TradeStore is the relational store of positions.
type TradeStore interface {
	ListOpen(ctx context.Context) ([]*model.Position, error)
	ListOpenByAccount(ctx context.Context, accountID int64) ([]*model.Position, error)
	GetTrade(ctx context.Context, id int64) (*model.Position, error)
	// CloseTrade closes and credits in one transaction. A trade that is no
	// longer open returns model.ErrTradeAlreadyClosed and changes nothing.
	CloseTrade(ctx context.Context, req model.CloseRequest) (*model.ClosedTrade, error)
}

type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	// GetAccounts loads many accounts in one round trip. Unknown ids are
	// absent from the result.
	GetAccounts(ctx context.Context, ids []int64) (map[int64]*model.Account, error)
	CurrentAccount(ctx context.Context, userID int64) (*model.Account, error)
}

// AlterJobStore is where external triggers create price alterations.
type AlterJobStore interface {
	ListActive(ctx context.Context) ([]*model.AlterJob, error)
	Delete(ctx context.Context, id int64) error
}

// CandleCache persists substituted candles for altered scopes.
type CandleCache interface {
	SaveAlteredCandle(ctx context.Context, c *model.AlteredCandle) error
	ListAltered(ctx context.Context, scope model.AlterScope, pair, interval string, accountID int64, since time.Time) ([]*model.AlteredCandle, error)
	Sweep(ctx context.Context, before time.Time) (int64, error)
}

// LivenessWriter records that the engine is alive with its price snapshot.
type LivenessWriter interface {
	WriteHeartbeat(ctx context.Context, ts time.Time, prices map[string]float64) error
}

// ShutdownMarker is polled every cycle; true stops the engine.
type ShutdownMarker interface {
	ShutdownRequested(ctx context.Context) (bool, error)
}
