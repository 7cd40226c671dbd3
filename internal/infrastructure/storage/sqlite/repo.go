package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

// Repo 改价K线缓存，每个 scope/pair/interval/account/period 一行
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// 确保目录存在
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS altered_candles (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  scope TEXT NOT NULL,
  pair TEXT NOT NULL,
  interval TEXT NOT NULL,
  account_id INTEGER NOT NULL DEFAULT 0,
  period_start INTEGER NOT NULL,
  open REAL NOT NULL,
  high REAL NOT NULL,
  low REAL NOT NULL,
  close REAL NOT NULL,
  volume REAL NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE(scope, pair, interval, account_id, period_start)
);
CREATE INDEX IF NOT EXISTS idx_altered_candles_lookup ON altered_candles(pair, interval, period_start);
CREATE INDEX IF NOT EXISTS idx_altered_candles_created ON altered_candles(created_at);
`)
	return err
}

func (r *Repo) SaveAlteredCandle(ctx context.Context, c *model.AlteredCandle) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO altered_candles(scope, pair, interval, account_id, period_start, open, high, low, close, volume, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(scope, pair, interval, account_id, period_start) DO UPDATE SET
  open=excluded.open,
  high=excluded.high,
  low=excluded.low,
  close=excluded.close,
  volume=excluded.volume
`, string(c.Scope), c.Pair, c.Interval, c.AccountID, c.PeriodStart.UnixMilli(),
		c.Open, c.High, c.Low, c.Close, c.Volume, created.UnixMilli())
	return err
}

func (r *Repo) ListAltered(ctx context.Context, scope model.AlterScope, pair, interval string, accountID int64, since time.Time) ([]*model.AlteredCandle, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT period_start, open, high, low, close, volume, created_at
FROM altered_candles
WHERE scope = ? AND pair = ? AND interval = ? AND account_id = ? AND period_start >= ?
ORDER BY period_start ASC
`, string(scope), pair, interval, accountID, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AlteredCandle
	for rows.Next() {
		var (
			c               model.AlteredCandle
			period, created int64
		)
		if err := rows.Scan(&period, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &created); err != nil {
			return nil, err
		}
		c.Scope, c.Pair, c.Interval, c.AccountID = scope, pair, interval, accountID
		c.PeriodStart = time.UnixMilli(period).UTC()
		c.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Sweep 删除保留期之前写入的K线
func (r *Repo) Sweep(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM altered_candles WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ port.CandleCache = (*Repo)(nil)
