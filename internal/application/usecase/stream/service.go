package stream

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/application/port"
	"tradestream/internal/application/service"
	"tradestream/internal/domain/model"
	domainservice "tradestream/internal/domain/service"
)

var (
	ErrNoFeeds           = errors.New("no price feeds")
	ErrShutdownRequested = errors.New("shutdown requested")
)

type Config struct {
	TickInterval     time.Duration
	JobsRefresh      time.Duration
	RetentionEvery   time.Duration
	RetentionHorizon time.Duration
	CallTimeout      time.Duration
	HistoryBars      int
}

type ServiceDeps struct {
	PriceFeeds  []port.PriceFeed
	KlineFeeds  []port.KlineFeed
	Pairs       []model.PairSpec
	Intervals   []string
	Tokens      port.TokenVerifier
	Permissions port.PermissionChecker
	Trades      port.TradeStore
	Accounts    port.AccountStore
	Jobs        port.AlterJobStore
	Candles     port.CandleCache
	Queue       port.NotificationQueue
	Liveness    port.LivenessWriter
	Shutdown    port.ShutdownMarker // optional
	Metrics     port.Metrics        // optional
	Monitor     domainservice.MonitorConfig
	Config      Config
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evMessage
)

type event struct {
	kind eventKind
	peer Peer
	id   string
	data []byte
}

// Service is the engine's single owner loop. Transports talk to it through
// Connect, Disconnect and Message; everything else happens inside Run.
type Service struct {
	deps ServiceDeps
	cfg  Config

	prices    *service.PriceService
	positions *service.PositionService
	bridge    *service.NotificationBridge
	engine    *domainservice.AlterationEngine
	monitor   *domainservice.PositionMonitor
	hub       *Hub
	metrics   port.Metrics

	events chan event
	done   chan struct{}

	lastPositions []*model.Position
	completing    map[int64]*model.AlterJob // finished jobs whose closes or delete are still pending
}

func NewService(deps ServiceDeps) *Service {
	cfg := deps.Config
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.JobsRefresh <= 0 {
		cfg.JobsRefresh = 5 * time.Second
	}
	if cfg.RetentionEvery <= 0 {
		cfg.RetentionEvery = 24 * time.Hour
	}
	if cfg.RetentionHorizon <= 0 {
		cfg.RetentionHorizon = 30 * 24 * time.Hour
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	symbols := make([]string, 0, len(deps.Pairs))
	for _, p := range deps.Pairs {
		symbols = append(symbols, p.Symbol)
	}
	prices := service.NewPriceService(symbols)
	positions := service.NewPositionService(deps.Trades, deps.Accounts)
	calc := domainservice.NewProfitCalculator(deps.Pairs)
	engine := domainservice.NewAlterationEngine(deps.Intervals)

	return &Service{
		deps:      deps,
		cfg:       cfg,
		prices:    prices,
		positions: positions,
		bridge:    service.NewNotificationBridge(deps.Queue),
		engine:    engine,
		monitor:   domainservice.NewPositionMonitor(calc, deps.Trades, deps.Accounts, deps.Monitor),
		hub: NewHub(HubDeps{
			Tokens:      deps.Tokens,
			Permissions: deps.Permissions,
			Positions:   positions,
			Candles:     deps.Candles,
			Calc:        calc,
			Engine:      engine,
			Prices:      prices,
			Metrics:     metrics,
			Intervals:   deps.Intervals,
			CallTimeout: cfg.CallTimeout,
			HistoryBars: cfg.HistoryBars,
		}),
		metrics:    metrics,
		events:     make(chan event, 1024),
		done:       make(chan struct{}),
		completing: make(map[int64]*model.AlterJob),
	}
}

// Connect registers a new socket with the loop.
func (s *Service) Connect(p Peer) bool {
	return s.post(event{kind: evConnect, peer: p, id: p.ID()})
}

// Disconnect removes a socket and all its subscriptions.
func (s *Service) Disconnect(id string) {
	s.post(event{kind: evDisconnect, id: id})
}

// Message forwards one inbound frame.
func (s *Service) Message(id string, data []byte) bool {
	return s.post(event{kind: evMessage, id: id, data: data})
}

func (s *Service) post(ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Done is closed when Run returns.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) Run(ctx context.Context) error {
	defer close(s.done)
	if len(s.deps.PriceFeeds) == 0 {
		return ErrNoFeeds
	}

	ticks := make(chan model.Tick, 1024)
	klines := make(chan model.Candle, 256)
	symbols := s.prices.Pairs()

	// start feeds
	for _, feed := range s.deps.PriceFeeds {
		ch, err := feed.Subscribe(ctx, symbols)
		if err != nil {
			return err
		}
		go forward(ctx, ch, ticks)
		log.Info().Str("feed", feed.Name()).Msg("price feed started")
	}
	if len(s.deps.Intervals) > 0 {
		for _, feed := range s.deps.KlineFeeds {
			ch, err := feed.SubscribeKlines(ctx, symbols, s.deps.Intervals)
			if err != nil {
				return err
			}
			go forward(ctx, ch, klines)
			log.Info().Str("feed", feed.Name()).Strs("intervals", s.deps.Intervals).Msg("kline feed started")
		}
	}

	s.refreshJobs(ctx)

	cycle := time.NewTicker(s.cfg.TickInterval)
	defer cycle.Stop()
	jobs := time.NewTicker(s.cfg.JobsRefresh)
	defer jobs.Stop()
	retention := time.NewTicker(s.cfg.RetentionEvery)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			s.hub.CloseAll()
			return ctx.Err()

		case ev := <-s.events:
			s.handleEvent(ctx, ev)

		case t := <-ticks:
			s.prices.Apply(t)

		case k := <-klines:
			if k.Closed {
				s.hub.BroadcastCandle(ctx, k, time.Now())
			}

		case now := <-cycle.C:
			if s.runCycle(ctx, now) {
				s.hub.CloseAll()
				return ErrShutdownRequested
			}

		case <-jobs.C:
			s.refreshJobs(ctx)

		case now := <-retention.C:
			s.sweepCandles(ctx, now)
		}
	}
}

func forward[T any](ctx context.Context, in <-chan T, out chan<- T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case evConnect:
		s.hub.Register(ev.peer)
		log.Debug().Str("conn", ev.id).Int("connections", s.hub.Len()).Msg("client connected")
	case evDisconnect:
		s.hub.Unregister(ev.id)
		log.Debug().Str("conn", ev.id).Int("connections", s.hub.Len()).Msg("client disconnected")
	case evMessage:
		s.hub.Handle(ctx, ev.id, ev.data)
	}
}

func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

// runCycle is one engine tick. It returns true when the shutdown marker is
// set.
func (s *Service) runCycle(ctx context.Context, now time.Time) bool {
	start := time.Now()
	completed := s.engine.Advance(now)
	positions := s.loadPositions(ctx)
	price := s.hub.PriceFunc()

	// the monitor may issue several closes; give it the whole tick
	mctx, cancel := context.WithTimeout(ctx, max(s.cfg.CallTimeout, s.cfg.TickInterval))
	defer cancel()

	for _, job := range completed {
		s.completing[job.ID] = job
	}
	closed := s.finishJobs(mctx, positions, now)

	res := s.monitor.Evaluate(mctx, positions, price, now)
	closed = append(closed, res.Closed...)
	for _, ct := range closed {
		s.metrics.IncTradeClosed(string(ct.Reason))
		s.hub.DispatchTradeClosed(closedEvent(ct, now))
	}
	for _, mc := range res.MarginCalls {
		s.hub.SendMarginCall(mc)
	}

	open := make([]*model.Position, 0, len(positions))
	for _, pos := range positions {
		if !s.monitor.IsClosed(pos.ID) {
			open = append(open, pos)
		}
	}
	s.hub.Broadcast(ctx, now, open)

	n, err := s.bridge.DrainAndDispatch(mctx, s.hub)
	if err != nil {
		log.Warn().Err(err).Msg("notification bridge")
	}
	s.metrics.AddBridgeFrames(n)

	lctx, lcancel := s.callCtx(ctx)
	if err := s.deps.Liveness.WriteHeartbeat(lctx, now, s.prices.Snapshot()); err != nil {
		log.Warn().Err(err).Msg("write liveness heartbeat")
	}
	lcancel()

	s.metrics.ObserveCycle(time.Since(start))
	return s.shutdownRequested(ctx)
}

// finishJobs closes the positions of completed jobs and deletes the jobs.
// A job stays pending until every covered position is closed and the store
// forgot it.
func (s *Service) finishJobs(ctx context.Context, positions []*model.Position, now time.Time) []*model.ClosedTrade {
	var closed []*model.ClosedTrade
	for id, job := range s.completing {
		if job.CloseOnComplete {
			cts, err := s.monitor.CloseForJob(ctx, job, positions, now)
			closed = append(closed, cts...)
			if err != nil {
				log.Warn().Err(err).Int64("job_id", id).Msg("alter job closes pending")
				continue
			}
		}
		if err := s.deps.Jobs.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Int64("job_id", id).Msg("delete completed alter job")
			continue
		}
		delete(s.completing, id)
		log.Info().Int64("job_id", id).Str("scope", string(job.Scope)).Str("pair", job.Pair).
			Float64("target", job.TargetPrice).Bool("close_on_complete", job.CloseOnComplete).Msg("alter job completed")
	}
	return closed
}

func (s *Service) loadPositions(ctx context.Context) []*model.Position {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	positions, err := s.positions.ListOpen(cctx)
	if err != nil {
		log.Warn().Err(err).Int("stale", len(s.lastPositions)).Msg("load open positions, using last known")
		return s.lastPositions
	}
	s.lastPositions = positions
	return positions
}

func (s *Service) shutdownRequested(ctx context.Context) bool {
	if s.deps.Shutdown == nil {
		return false
	}
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	stop, err := s.deps.Shutdown.ShutdownRequested(cctx)
	if err != nil {
		log.Warn().Err(err).Msg("poll shutdown marker")
		return false
	}
	if stop {
		log.Info().Msg("shutdown marker found, stopping engine")
	}
	return stop
}

func (s *Service) refreshJobs(ctx context.Context) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	jobs, err := s.deps.Jobs.ListActive(cctx)
	if err != nil {
		log.Warn().Err(err).Msg("refresh alter jobs")
		return
	}
	s.engine.SetJobs(jobs)
	log.Debug().Int("listed", len(jobs)).Int("active", len(s.engine.Jobs())).Int("completing", len(s.completing)).Msg("alter jobs refreshed")
}

func (s *Service) sweepCandles(ctx context.Context, now time.Time) {
	cctx, cancel := s.callCtx(ctx)
	defer cancel()
	n, err := s.deps.Candles.Sweep(cctx, now.Add(-s.cfg.RetentionHorizon))
	if err != nil {
		log.Warn().Err(err).Msg("sweep altered candles")
		return
	}
	log.Info().Int64("deleted", n).Dur("horizon", s.cfg.RetentionHorizon).Msg("altered candle retention")
}
