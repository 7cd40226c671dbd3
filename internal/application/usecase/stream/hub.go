package stream

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/application/port"
	"tradestream/internal/application/service"
	"tradestream/internal/domain/model"
	domainservice "tradestream/internal/domain/service"
)

type HubDeps struct {
	Tokens      port.TokenVerifier
	Permissions port.PermissionChecker
	Positions   *service.PositionService
	Candles     port.CandleCache
	Calc        *domainservice.ProfitCalculator
	Engine      *domainservice.AlterationEngine
	Prices      *service.PriceService
	Metrics     port.Metrics
	Intervals   []string
	CallTimeout time.Duration
	HistoryBars int
}

// Hub owns every live connection and its subscriptions. All methods must be
// called from the stream loop.
type Hub struct {
	deps      HubDeps
	conns     map[string]*Connection
	byUser    map[int64]map[string]*Connection
	pairs     map[string]struct{}
	intervals map[string]struct{}
}

func NewHub(deps HubDeps) *Hub {
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = 2 * time.Second
	}
	if deps.HistoryBars <= 0 {
		deps.HistoryBars = 500
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	h := &Hub{
		deps:      deps,
		conns:     make(map[string]*Connection),
		byUser:    make(map[int64]map[string]*Connection),
		pairs:     make(map[string]struct{}),
		intervals: make(map[string]struct{}, len(deps.Intervals)),
	}
	for _, p := range deps.Prices.Pairs() {
		h.pairs[p] = struct{}{}
	}
	for _, iv := range deps.Intervals {
		h.intervals[iv] = struct{}{}
	}
	return h
}

func (h *Hub) Len() int { return len(h.conns) }

func (h *Hub) Connection(id string) (*Connection, bool) {
	c, ok := h.conns[id]
	return c, ok
}

func (h *Hub) Register(p Peer) *Connection {
	c := newConnection(p)
	h.conns[p.ID()] = c
	h.deps.Metrics.SetConnections(len(h.conns))
	return c
}

// Unregister removes every trace of the connection. It is a no-op for
// unknown ids.
func (h *Hub) Unregister(id string) {
	c, ok := h.conns[id]
	if !ok {
		return
	}
	h.detachUser(c)
	delete(h.conns, id)
	h.deps.Metrics.SetConnections(len(h.conns))
}

// CloseAll drops every connection, used on shutdown.
func (h *Hub) CloseAll() {
	for id, c := range h.conns {
		h.Unregister(id)
		c.peer.Close()
	}
}

func (h *Hub) detachUser(c *Connection) {
	if c.UserID == 0 {
		return
	}
	if set := h.byUser[c.UserID]; set != nil {
		delete(set, c.ID())
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
}

func (h *Hub) attachUser(c *Connection) {
	set := h.byUser[c.UserID]
	if set == nil {
		set = make(map[string]*Connection)
		h.byUser[c.UserID] = set
	}
	set[c.ID()] = c
}

func (h *Hub) encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encode frame")
		return nil
	}
	return b
}

// deliver hands a pre-encoded frame to the peer. A full send buffer drops
// the client.
func (h *Hub) deliver(c *Connection, frame []byte) bool {
	if frame == nil {
		return false
	}
	if _, live := h.conns[c.ID()]; !live {
		return false
	}
	if c.peer.Send(frame) {
		return true
	}
	log.Warn().Str("conn", c.ID()).Int64("user_id", c.UserID).Msg("send buffer full, dropping client")
	h.deps.Metrics.IncDroppedClients()
	h.Unregister(c.ID())
	c.peer.Close()
	return false
}

func (h *Hub) send(c *Connection, v any) bool {
	return h.deliver(c, h.encode(v))
}

func (h *Hub) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.deps.CallTimeout)
}

// Handle processes one inbound message from connection id.
func (h *Hub) Handle(ctx context.Context, id string, raw []byte) {
	c, ok := h.conns[id]
	if !ok {
		return
	}
	in, err := decodeInbound(raw)
	if err == nil {
		err = h.dispatch(ctx, c, in)
	}
	if err != nil {
		h.replyError(c, err)
	}
}

func (h *Hub) replyError(c *Connection, err error) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		h.deps.Metrics.IncProtocolErrors()
		h.send(c, errorFrame{Type: FrameError, Code: pe.Code, Message: pe.Message})
		return
	}
	log.Error().Err(err).Str("conn", c.ID()).Msg("handle message")
	h.send(c, errorFrame{Type: FrameError, Message: "internal error"})
}

func (h *Hub) dispatch(ctx context.Context, c *Connection, in *Inbound) error {
	switch in.Type {
	case MsgPing:
		h.send(c, pongFrame{Type: FramePong, Ts: millis(time.Now())})
		return nil
	case MsgAuth:
		return h.handleAuth(ctx, c, in)
	case MsgSubscribeAccount:
		return h.handleSubscribeAccount(ctx, c, in)
	case MsgSubscribeTrade:
		return h.handleSubscribeTrade(ctx, c, in)
	}

	if !c.Authenticated() {
		if !knownType(in.Type) {
			return protoErr("unknown message type %q", in.Type)
		}
		return protoErr("authentication required")
	}

	switch in.Type {
	case MsgSubscribe:
		return h.handleSubscribe(c, in)
	case MsgSubscribeTrades:
		return h.handleSubscribeTrades(c, in)
	case MsgSubscribeChart:
		return h.handleSubscribeChart(c, in)
	case MsgUnsubscribeChart:
		pair := model.NormalizePair(in.Pair)
		if pair == "" {
			return protoErr("pair is required")
		}
		delete(c.charts, pair)
		h.send(c, chartFrame{Type: FrameChartUnsubscribed, Pair: pair})
		return nil
	case MsgUnsubscribeAccount:
		if in.AccountID == nil {
			clear(c.watchAccounts)
		} else {
			delete(c.watchAccounts, *in.AccountID)
		}
		return nil
	case MsgUnsubscribeTrade:
		if in.TradeID == nil {
			clear(c.watchTrades)
		} else {
			delete(c.watchTrades, *in.TradeID)
		}
		return nil
	case MsgGetAccount:
		return h.handleGetAccount(ctx, c)
	case MsgGetChartHistory:
		return h.handleChartHistory(ctx, c, in)
	}
	return protoErr("unknown message type %q", in.Type)
}

func knownType(t string) bool {
	switch t {
	case MsgSubscribe, MsgSubscribeTrades, MsgSubscribeChart, MsgUnsubscribeChart,
		MsgUnsubscribeAccount, MsgUnsubscribeTrade, MsgGetAccount, MsgGetChartHistory:
		return true
	}
	return false
}

func (h *Hub) handleAuth(ctx context.Context, c *Connection, in *Inbound) error {
	if in.Token == "" {
		h.send(c, authErrorFrame{Type: FrameAuthError, Message: "token is required"})
		return nil
	}
	cctx, cancel := h.callCtx(ctx)
	defer cancel()

	id, err := h.deps.Tokens.Verify(cctx, in.Token)
	if err != nil {
		if !errors.Is(err, model.ErrInvalidToken) {
			log.Warn().Err(err).Str("conn", c.ID()).Msg("token verification failed")
		}
		h.send(c, authErrorFrame{Type: FrameAuthError, Message: model.ErrInvalidToken.Error()})
		return nil
	}

	h.detachUser(c)
	c.UserID, c.Role, c.AccountID = id.UserID, id.Role, 0
	acct, err := h.deps.Positions.CurrentAccount(cctx, id.UserID)
	switch {
	case err == nil:
		c.AccountID = acct.ID
	case !errors.Is(err, model.ErrAccountNotFound):
		log.Warn().Err(err).Int64("user_id", id.UserID).Msg("resolve current account")
	}
	h.attachUser(c)

	log.Info().Str("conn", c.ID()).Int64("user_id", c.UserID).Str("role", string(c.Role)).Int64("account_id", c.AccountID).Msg("client authenticated")
	h.send(c, authSuccessFrame{Type: FrameAuthSuccess, UserID: c.UserID, Role: c.Role, AccountID: c.AccountID})
	return nil
}

func (h *Hub) handleSubscribe(c *Connection, in *Inbound) error {
	pairs, all, err := pairList(in.Pairs)
	if err != nil {
		return err
	}
	if all {
		pairs = h.deps.Prices.Pairs()
	}
	next := make(map[string]struct{}, len(pairs))
	accepted := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := h.pairs[p]; !ok {
			continue
		}
		next[p] = struct{}{}
		accepted = append(accepted, p)
	}
	c.tickers = next
	h.send(c, pairsFrame{Type: FrameSubscribed, Pairs: accepted})
	return nil
}

func (h *Hub) handleSubscribeTrades(c *Connection, in *Inbound) error {
	pairs, all, err := pairList(in.Pairs)
	if err != nil {
		return err
	}
	clear(c.tradePairs)
	switch {
	case all:
		c.tradePush = TradePushAll
		h.send(c, pairsFrame{Type: FrameTradesSubscribed, Pairs: "all"})
		return nil
	case len(pairs) == 0:
		c.tradePush = TradePushNone
	default:
		c.tradePush = TradePushPairs
		for _, p := range pairs {
			c.tradePairs[p] = struct{}{}
		}
	}
	if pairs == nil {
		pairs = []string{}
	}
	h.send(c, pairsFrame{Type: FrameTradesSubscribed, Pairs: pairs})
	return nil
}

func (h *Hub) handleSubscribeChart(c *Connection, in *Inbound) error {
	pair := model.NormalizePair(in.Pair)
	if pair == "" {
		return protoErr("pair is required")
	}
	if _, ok := h.intervals[in.Interval]; !ok {
		return protoErr("unsupported interval %q", in.Interval)
	}
	c.charts[pair] = in.Interval
	h.send(c, chartFrame{Type: FrameChartSubscribed, Pair: pair, Interval: in.Interval})
	return nil
}

func (h *Hub) handleSubscribeAccount(ctx context.Context, c *Connection, in *Inbound) error {
	cctx, cancel := h.callCtx(ctx)
	defer cancel()

	capab := domainservice.Authorize(cctx, c.identity(), model.PermManageAccounts, h.deps.Permissions)
	if !capab.Allowed {
		return capabilityError(capab)
	}
	if in.AccountID == nil || *in.AccountID <= 0 {
		return protoErr("account_id is required")
	}
	id := *in.AccountID
	if _, err := h.deps.Positions.GetAccount(cctx, id); err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return protoErr("account %d not found", id)
		}
		return err
	}
	c.watchAccounts[id] = struct{}{}
	h.send(c, accountSubscribedFrame{Type: FrameAccountSubscribed, AccountID: id})
	return nil
}

func (h *Hub) handleSubscribeTrade(ctx context.Context, c *Connection, in *Inbound) error {
	cctx, cancel := h.callCtx(ctx)
	defer cancel()

	capab := domainservice.Authorize(cctx, c.identity(), model.PermManageTrades, h.deps.Permissions)
	if !capab.Allowed {
		return capabilityError(capab)
	}
	if in.TradeID == nil || *in.TradeID <= 0 {
		return protoErr("trade_id is required")
	}
	id := *in.TradeID
	if _, err := h.deps.Positions.GetTrade(cctx, id); err != nil {
		if errors.Is(err, model.ErrTradeNotFound) {
			return protoErr("trade %d not found", id)
		}
		return err
	}
	c.watchTrades[id] = struct{}{}
	h.send(c, tradeSubscribedFrame{Type: FrameTradeSubscribed, TradeID: id})
	return nil
}

func (h *Hub) handleGetAccount(ctx context.Context, c *Connection) error {
	if c.AccountID == 0 {
		return protoErr("no trading account")
	}
	cctx, cancel := h.callCtx(ctx)
	defer cancel()

	acct, positions, err := h.deps.Positions.AccountWithPositions(cctx, c.AccountID)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return protoErr("account %d not found", c.AccountID)
		}
		return err
	}
	view, trades := h.accountState(acct, positions)
	h.send(c, h.accountUpdateFor(c, view, trades))
	return nil
}

// handleChartHistory replays the altered candles a viewer would have seen.
// Privileged viewers see true prices, so there is nothing to replay.
func (h *Hub) handleChartHistory(ctx context.Context, c *Connection, in *Inbound) error {
	pair := model.NormalizePair(in.Pair)
	if pair == "" {
		return protoErr("pair is required")
	}
	d, err := model.IntervalDuration(in.Interval)
	if _, ok := h.intervals[in.Interval]; err != nil || !ok {
		return protoErr("unsupported interval %q", in.Interval)
	}
	out := chartHistoryFrame{Type: FrameChartHistory, Pair: pair, Interval: in.Interval, Candles: []historyCandle{}}
	if c.Role.Privileged() {
		h.send(c, out)
		return nil
	}

	since := time.Now().Add(-d * time.Duration(h.deps.HistoryBars))
	if in.Since > 0 {
		since = time.UnixMilli(in.Since)
	}
	cctx, cancel := h.callCtx(ctx)
	defer cancel()

	byPeriod := make(map[int64]*model.AlteredCandle)
	pairRows, err := h.deps.Candles.ListAltered(cctx, model.ScopePair, pair, in.Interval, 0, since)
	if err != nil {
		return err
	}
	for _, r := range pairRows {
		byPeriod[r.PeriodStart.UnixMilli()] = r
	}
	if c.AccountID != 0 {
		rows, err := h.deps.Candles.ListAltered(cctx, model.ScopeAccountPair, pair, in.Interval, c.AccountID, since)
		if err != nil {
			return err
		}
		for _, r := range rows {
			byPeriod[r.PeriodStart.UnixMilli()] = r
		}
	}
	for ts, r := range byPeriod {
		out.Candles = append(out.Candles, historyCandle{
			OpenTime: ts, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume, IsAltered: true,
		})
	}
	sort.Slice(out.Candles, func(i, j int) bool { return out.Candles[i].OpenTime < out.Candles[j].OpenTime })
	h.send(c, out)
	return nil
}
