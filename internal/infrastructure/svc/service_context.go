package svc

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"tradestream/internal/application/port"
	"tradestream/internal/application/usecase/stream"
	domainservice "tradestream/internal/domain/service"
	"tradestream/internal/infrastructure/config"
	"tradestream/internal/infrastructure/container"
	"tradestream/internal/infrastructure/factory"
	"tradestream/internal/infrastructure/metrics"
)

// ServiceContext 基础设施到 stream service 依赖的唯一组装点
type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	container *container.Container
	metrics   *metrics.Metrics

	priceFeeds []port.PriceFeed
	klineFeeds []port.KlineFeed
}

func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	c, err := container.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}
	sc := &ServiceContext{
		Ctx:       ctx,
		Config:    cfg,
		container: c,
		metrics:   metrics.New(),
	}
	if err := sc.initFeeds(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initFeeds() error {
	feeds, err := factory.NewFeeds(sc.Config, sc.metrics)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoFeedsEnabled, err)
	}
	sc.priceFeeds = append(sc.priceFeeds, feeds.Price)
	if feeds.Kline != nil {
		sc.klineFeeds = append(sc.klineFeeds, feeds.Kline)
	}
	log.Info().
		Str("feed", sc.Config.Feed.Name).
		Int("pairs", len(sc.Config.Pairs)).
		Strs("intervals", sc.Config.Engine.Intervals).
		Msg("feeds initialized")
	return nil
}

// BuildStreamServiceDeps 构建 stream.NewService 所需的所有依赖
func (sc *ServiceContext) BuildStreamServiceDeps() (stream.ServiceDeps, error) {
	trades, accounts, tokens, perms, jobs, err := sc.container.Stores()
	if err != nil {
		return stream.ServiceDeps{}, fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}
	cfg := sc.Config
	return stream.ServiceDeps{
		PriceFeeds:  sc.priceFeeds,
		KlineFeeds:  sc.klineFeeds,
		Pairs:       cfg.Pairs,
		Intervals:   cfg.Engine.Intervals,
		Tokens:      tokens,
		Permissions: perms,
		Trades:      trades,
		Accounts:    accounts,
		Jobs:        jobs,
		Candles:     sc.container.Candles(),
		Queue:       sc.container.Queue(),
		Liveness:    sc.container.Liveness(),
		Shutdown:    sc.container.Shutdown(),
		Metrics:     sc.metrics,
		Monitor: domainservice.MonitorConfig{
			MarginCallLevel: cfg.Monitor.MarginCallLevel,
			StopOutLevel:    cfg.Monitor.StopOutLevel,
			SweepEvery:      cfg.Monitor.SweepEvery,
		},
		Config: stream.Config{
			TickInterval:     cfg.TickInterval(),
			JobsRefresh:      cfg.JobsRefresh(),
			RetentionEvery:   cfg.RetentionEvery(),
			RetentionHorizon: cfg.RetentionHorizon(),
			CallTimeout:      cfg.CallTimeout(),
			HistoryBars:      cfg.Engine.HistoryBars,
		},
	}, nil
}

func (sc *ServiceContext) Metrics() *metrics.Metrics { return sc.metrics }

// Close 释放存储连接；行情 feed 随 ctx 结束
func (sc *ServiceContext) Close() error {
	return sc.container.Close()
}
