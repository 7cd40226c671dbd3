package postgres

import (
	"context"
	"database/sql"
	"time"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

type AlterJobRepo struct {
	db *sql.DB
}

func NewAlterJobRepo(db *sql.DB) *AlterJobRepo {
	return &AlterJobRepo{db: db}
}

func (r *AlterJobRepo) ListActive(ctx context.Context) ([]*model.AlterJob, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, scope, pair, account_id, trade_id, start_price, target_price,
  start_time, duration_ms, close_on_complete, chart_alter FROM alter_jobs ORDER BY start_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AlterJob
	for rows.Next() {
		var (
			j          model.AlterJob
			scope      string
			acct, trd  sql.NullInt64
			durationMs int64
		)
		if err := rows.Scan(&j.ID, &scope, &j.Pair, &acct, &trd, &j.StartPrice, &j.TargetPrice,
			&j.StartTime, &durationMs, &j.CloseOnComplete, &j.ChartAlter); err != nil {
			return nil, err
		}
		j.Scope = model.AlterScope(scope)
		j.AccountID = acct.Int64
		j.TradeID = trd.Int64
		j.Duration = time.Duration(durationMs) * time.Millisecond
		j.Pair = model.NormalizePair(j.Pair)
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (r *AlterJobRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM alter_jobs WHERE id = $1`, id)
	return err
}

var _ port.AlterJobStore = (*AlterJobRepo)(nil)
