package stream

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"tradestream/internal/application/port"
	"tradestream/internal/application/service"
	"tradestream/internal/domain/model"
	domainservice "tradestream/internal/domain/service"
)

// positionPrice resolves the price that governs a position's P&L.
func (h *Hub) positionPrice(pos *model.Position) (model.Quote, bool) {
	raw, ok := h.deps.Prices.Price(pos.Pair)
	q := h.deps.Engine.PositionQuote(pos, raw)
	return q, ok || q.IsAltered
}

// PriceFunc adapts positionPrice for the profit calculator and monitor.
func (h *Hub) PriceFunc() domainservice.PriceFunc {
	return func(pos *model.Position) (float64, bool) {
		q, ok := h.positionPrice(pos)
		return q.Price, ok
	}
}

func (h *Hub) tradeViewOf(pos *model.Position) (tradeView, bool) {
	q, ok := h.positionPrice(pos)
	if !ok {
		return tradeView{Position: pos}, false
	}
	pr := h.deps.Calc.Profit(pos, q.Price)
	return tradeView{
		Position:        pos,
		CurrentPrice:    q.Price,
		Profit:          pr.PnL,
		ProfitFormatted: pr.Formatted,
		ProfitStatus:    pr.Status,
		IsAltered:       q.IsAltered,
	}, true
}

func (h *Hub) accountState(acct *model.Account, positions []*model.Position) (accountView, []tradeView) {
	snap := h.deps.Calc.Account(acct, positions, h.PriceFunc())
	trades := make([]tradeView, 0, len(positions))
	for _, pos := range positions {
		if pos.Status != model.TradeOpen {
			continue
		}
		tv, _ := h.tradeViewOf(pos)
		trades = append(trades, tv)
	}
	return newAccountView(acct, snap), trades
}

// accountUpdateFor applies the connection's trade-push filter.
func (h *Hub) accountUpdateFor(c *Connection, view accountView, trades []tradeView) accountUpdateFrame {
	f := accountUpdateFrame{Type: FrameAccountUpdate, accountView: view}
	if c.tradePush == TradePushNone {
		return f
	}
	filtered := make([]tradeView, 0, len(trades))
	for _, tv := range trades {
		if c.pushesTrade(tv.Pair) {
			filtered = append(filtered, tv)
		}
	}
	f.OpenTrades = filtered
	return f
}

// cycleView is one consistent snapshot of open positions shared by every
// frame of a broadcast.
type cycleView struct {
	byAccount map[int64][]*model.Position
	byTrade   map[int64]*model.Position
	accounts  map[int64]*model.Account
	states    map[int64]accountState
}

type accountState struct {
	view   accountView
	trades []tradeView
}

func newCycleView(open []*model.Position) *cycleView {
	v := &cycleView{
		byAccount: make(map[int64][]*model.Position),
		byTrade:   make(map[int64]*model.Position, len(open)),
		accounts:  make(map[int64]*model.Account),
		states:    make(map[int64]accountState),
	}
	for _, pos := range open {
		v.byAccount[pos.AccountID] = append(v.byAccount[pos.AccountID], pos)
		v.byTrade[pos.ID] = pos
	}
	return v
}

// loadAccounts reads every account the cycle renders in one store call.
func (h *Hub) loadAccounts(ctx context.Context, v *cycleView) {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0, len(h.conns))
	want := func(id int64) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, c := range h.conns {
		if c.Authenticated() {
			want(c.AccountID)
		}
		if c.Role.Privileged() {
			for id := range c.watchAccounts {
				want(id)
			}
		}
	}
	if len(ids) == 0 {
		return
	}
	cctx, cancel := h.callCtx(ctx)
	defer cancel()
	accounts, err := h.deps.Positions.GetAccounts(cctx, ids)
	if err != nil {
		log.Warn().Err(err).Int("accounts", len(ids)).Msg("load accounts for broadcast")
		return
	}
	v.accounts = accounts
}

// state computes an account's snapshot once per cycle.
func (h *Hub) state(v *cycleView, accountID int64) (accountState, bool) {
	if st, ok := v.states[accountID]; ok {
		return st, true
	}
	acct, ok := v.accounts[accountID]
	if !ok {
		return accountState{}, false
	}
	view, trades := h.accountState(acct, v.byAccount[accountID])
	st := accountState{view: view, trades: trades}
	v.states[accountID] = st
	return st, true
}

// Broadcast sends one cycle of price and account frames. Each user's price
// frames go out before that user's account frame.
func (h *Hub) Broadcast(ctx context.Context, now time.Time, open []*model.Position) {
	v := newCycleView(open)
	h.loadAccounts(ctx, v)
	ts := millis(now)

	for _, set := range h.byUser {
		conns := make([]*Connection, 0, len(set))
		for _, c := range set {
			conns = append(conns, c)
		}
		sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })

		for _, c := range conns {
			h.sendPrices(c, ts)
		}
		for _, c := range conns {
			if c.AccountID == 0 {
				continue
			}
			st, ok := h.state(v, c.AccountID)
			if !ok {
				continue
			}
			h.send(c, h.accountUpdateFor(c, st.view, st.trades))
		}
	}
	h.broadcastAdmin(v)
}

func (h *Hub) sendPrices(c *Connection, ts int64) {
	pairs := c.Tickers()
	sort.Strings(pairs)
	for _, pair := range pairs {
		raw, ok := h.deps.Prices.Price(pair)
		q := h.deps.Engine.ViewerQuote(pair, c.AccountID, c.Role, raw)
		if !ok && !q.IsAltered {
			continue
		}
		// altered viewers get the direction of their own price path
		dir := h.deps.Prices.Direction(pair)
		if q.IsAltered {
			dir = service.DirectionOf(c.alteredSent[pair], q.Price)
			c.alteredSent[pair] = q.Price
		} else {
			delete(c.alteredSent, pair)
		}
		frame := priceUpdateFrame{
			Type: FramePriceUpdate, Symbol: pair, Price: q.Price, IsAltered: q.IsAltered,
			Direction: dir.String(), Timestamp: ts,
		}
		if !h.send(c, frame) {
			return
		}
	}
}

func (h *Hub) broadcastAdmin(v *cycleView) {
	accountFrames := make(map[int64][]byte)
	tradeFrames := make(map[int64][]byte)
	for _, c := range h.conns {
		if !c.Role.Privileged() {
			continue
		}
		for id := range c.watchAccounts {
			frame, ok := accountFrames[id]
			if !ok {
				if st, found := h.state(v, id); found {
					frame = h.encode(adminAccountUpdateFrame{
						Type: FrameAdminAccountUpdate, AccountID: id, Account: st.view, OpenTrades: st.trades,
					})
				}
				accountFrames[id] = frame
			}
			if frame != nil && !h.deliver(c, frame) {
				break
			}
		}
		for id := range c.watchTrades {
			frame, ok := tradeFrames[id]
			if !ok {
				if pos, open := v.byTrade[id]; open {
					tv, _ := h.tradeViewOf(pos)
					frame = h.encode(adminTradeUpdateFrame{Type: FrameAdminTradeUpdate, Trade: tv})
				}
				tradeFrames[id] = frame
			}
			if frame != nil && !h.deliver(c, frame) {
				break
			}
		}
	}
}

// DispatchTradeClosed sends trade_closed to the owner's connections and
// admin_trade_closed to admins watching the trade or its account.
func (h *Hub) DispatchTradeClosed(ev port.TradeClosedEvent) int {
	ts := ev.Ts
	if ts == 0 {
		ts = millis(time.Now())
	}
	sent := 0
	owner := h.encode(tradeClosedFrame{
		Type: FrameTradeClosed, TradeID: ev.TradeID, Ref: ev.Ref, Pair: ev.Pair, Reason: ev.Reason,
		Profit: ev.Profit, ClosePrice: ev.ClosePrice, Message: closedMessage(ev), Timestamp: ts,
	})
	for _, c := range h.byUser[ev.UserID] {
		if h.deliver(c, owner) {
			sent++
		}
	}

	ref := &tradeRef{tradeID: ev.TradeID, accountID: ev.AccountID}
	var admin []byte
	for _, c := range h.conns {
		if !c.Role.Privileged() || !c.watchesTrade(ref) {
			continue
		}
		if admin == nil {
			admin = h.encode(adminTradeClosedFrame{
				Type: FrameAdminTradeClosed, UserID: ev.UserID, AccountID: ev.AccountID, TradeID: ev.TradeID,
				Ref: ev.Ref, Pair: ev.Pair, Reason: ev.Reason, Profit: ev.Profit, ClosePrice: ev.ClosePrice, Timestamp: ts,
			})
		}
		if h.deliver(c, admin) {
			sent++
		}
	}
	return sent
}

// SendMarginCall warns the account owner.
func (h *Hub) SendMarginCall(mc domainservice.MarginCall) int {
	frame := h.encode(marginCallFrame{
		Type:        FrameMarginCall,
		AccountID:   mc.AccountID,
		MarginLevel: mc.Snapshot.MarginLevel,
		Equity:      mc.Snapshot.Equity,
		UsedMargin:  mc.Snapshot.UsedMargin,
		Message:     "Margin level is low, add funds or close positions to avoid stop out",
	})
	sent := 0
	for _, c := range h.byUser[mc.UserID] {
		if c.AccountID != mc.AccountID {
			continue
		}
		if h.deliver(c, frame) {
			sent++
		}
	}
	return sent
}

// closedEvent turns an in-process closure into the bridged event shape.
func closedEvent(ct *model.ClosedTrade, now time.Time) port.TradeClosedEvent {
	return port.TradeClosedEvent{
		UserID:     ct.UserID,
		AccountID:  ct.AccountID,
		TradeID:    ct.TradeID,
		Ref:        ct.Ref,
		Pair:       ct.Pair,
		Reason:     ct.Reason,
		Profit:     ct.Profit,
		ClosePrice: ct.ClosePrice,
		Ts:         millis(now),
	}
}
