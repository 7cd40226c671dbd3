package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"tradestream/internal/application/usecase/stream"
	"tradestream/internal/infrastructure/config"
	"tradestream/internal/infrastructure/logger"
	"tradestream/internal/infrastructure/svc"
	"tradestream/internal/interfaces/ws"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	logger.Setup("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("config", *configPath).Msg("load config failed")
		os.Exit(1)
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("tradestream exited")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	sc, err := svc.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	deps, err := sc.BuildStreamServiceDeps()
	if err != nil {
		return err
	}
	engine := stream.NewService(deps)

	server := ws.NewServer(engine, sc.Metrics().Handler(), ws.Options{
		Addr:            cfg.Server.Addr,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		SendBuffer:      cfg.Server.SendBuffer,
		WriteTimeout:    cfg.WriteTimeout(),
		PingInterval:    cfg.PingInterval(),
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
	})
	listener, err := server.Listen()
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Server.Addr).Msg("bind listener failed")
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	log.Info().
		Str("addr", listener.Addr().String()).
		Int("pairs", len(cfg.Pairs)).
		Strs("intervals", cfg.Engine.Intervals).
		Dur("tick", cfg.TickInterval()).
		Msg("tradestream started")

	engineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(engineCtx) }()

	var result error
	select {
	case err := <-runErr:
		result = err
	case err := <-serveErr:
		result = err
		cancel()
		<-runErr
	}

	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer scancel()
	if err := server.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}

	switch {
	case result == nil,
		errors.Is(result, context.Canceled),
		errors.Is(result, stream.ErrShutdownRequested):
		log.Info().Msg("tradestream stopped")
		return nil
	default:
		return result
	}
}
