// Command tradestream-notify pushes a trade_closed notification onto the
// shared queue so a running engine delivers it to the trade's owner.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/application/port"
	"tradestream/internal/application/service"
	"tradestream/internal/domain/model"
	"tradestream/internal/infrastructure/config"
	"tradestream/internal/infrastructure/container"
	"tradestream/internal/infrastructure/logger"
	redisrepo "tradestream/internal/infrastructure/storage/redis"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("tradestream-notify", flag.ContinueOnError)
	configPath := fs.String("config", "configs/config.toml", "path to config.toml")
	userID := fs.Int64("user", 0, "owner user id")
	accountID := fs.Int64("account", 0, "account id")
	tradeID := fs.Int64("trade", 0, "closed trade id")
	ref := fs.String("ref", "", "trade reference")
	pair := fs.String("pair", "", "trade pair, e.g. BTC/USD")
	reason := fs.String("reason", string(model.CloseManual), "close reason")
	profit := fs.Float64("profit", 0, "realized profit")
	price := fs.Float64("price", 0, "close price")
	shutdown := fs.Bool("shutdown", false, "set the engine shutdown marker instead")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger.Setup("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("config", *configPath).Msg("load config failed")
		return 1
	}
	if !cfg.Storage.Redis.Enabled {
		log.Error().Msg("storage.redis is disabled; the queue is only shared through redis")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := container.OpenRedis(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("connect redis failed")
		return 1
	}
	defer rdb.Close()
	repo := redisrepo.New(rdb, cfg.Storage.Redis.Prefix, cfg.HeartbeatTTL())

	if *shutdown {
		if err := repo.RequestShutdown(ctx); err != nil {
			log.Error().Err(err).Msg("set shutdown marker failed")
			return 1
		}
		log.Info().Msg("shutdown marker set")
		return 0
	}

	ev := port.TradeClosedEvent{
		UserID:     *userID,
		AccountID:  *accountID,
		TradeID:    *tradeID,
		Ref:        *ref,
		Pair:       model.NormalizePair(*pair),
		Reason:     model.CloseReason(*reason),
		Profit:     *profit,
		ClosePrice: *price,
		Ts:         time.Now().UnixMilli(),
	}
	if err := service.NewNotificationBridge(repo).Enqueue(ctx, ev); err != nil {
		log.Error().Err(err).Msg("publish trade_closed failed")
		return 1
	}
	log.Info().Int64("user_id", ev.UserID).Int64("trade_id", ev.TradeID).Msg("trade_closed queued")
	return 0
}
