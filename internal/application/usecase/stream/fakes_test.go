package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"tradestream/internal/domain/model"
	domainservice "tradestream/internal/domain/service"
	"tradestream/internal/infrastructure/storage/memory"
)

type fakePeer struct {
	id     string
	frames [][]byte
	full   bool
	closed bool
}

func newPeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(frame []byte) bool {
	if p.full {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) Close() { p.closed = true }

func (p *fakePeer) decoded(t *testing.T) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(p.frames))
	for _, f := range p.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("frame is not json: %s", f)
		}
		out = append(out, m)
	}
	return out
}

func (p *fakePeer) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range p.decoded(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePeer) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range p.decoded(t) {
		out = append(out, fmt.Sprint(m["type"]))
	}
	return out
}

func (p *fakePeer) reset() { p.frames = nil }

type fakeTokens map[string]*model.Identity

func (f fakeTokens) Verify(ctx context.Context, token string) (*model.Identity, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return nil, model.ErrInvalidToken
}

type fakePermissions map[int64][]model.Permission

func (f fakePermissions) HasPermission(ctx context.Context, userID int64, perm model.Permission) (bool, error) {
	for _, p := range f[userID] {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

type fakeStore struct {
	mu       sync.Mutex
	trades   map[int64]*model.Position
	accounts map[int64]*model.Account
	closes   []model.CloseRequest
	failOnce map[int64]bool

	batchReads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trades:   make(map[int64]*model.Position),
		accounts: make(map[int64]*model.Account),
		failOnce: make(map[int64]bool),
	}
}

func (f *fakeStore) addAccount(a *model.Account) { f.accounts[a.ID] = a }

func (f *fakeStore) addTrade(p *model.Position) {
	if p.Status == "" {
		p.Status = model.TradeOpen
	}
	f.trades[p.ID] = p
}

func (f *fakeStore) ListOpen(ctx context.Context) ([]*model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Position
	for _, p := range f.trades {
		if p.Status == model.TradeOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListOpenByAccount(ctx context.Context, accountID int64) ([]*model.Position, error) {
	all, _ := f.ListOpen(ctx)
	var out []*model.Position
	for _, p := range all {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTrade(ctx context.Context, id int64) (*model.Position, error) {
	if p, ok := f.trades[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, model.ErrTradeNotFound
}

func (f *fakeStore) CloseTrade(ctx context.Context, req model.CloseRequest) (*model.ClosedTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.trades[req.TradeID]
	if !ok {
		return nil, model.ErrTradeNotFound
	}
	if p.Status != model.TradeOpen {
		return nil, model.ErrTradeAlreadyClosed
	}
	if f.failOnce[req.TradeID] {
		delete(f.failOnce, req.TradeID)
		return nil, fmt.Errorf("serialization failure")
	}
	p.Status = model.TradeClosed
	p.CloseReason = req.Reason
	f.closes = append(f.closes, req)
	acct := f.accounts[p.AccountID]
	acct.Balance += req.Profit
	return &model.ClosedTrade{
		TradeID: p.ID, Ref: p.Ref, AccountID: p.AccountID, UserID: p.UserID, Pair: p.Pair,
		Reason: req.Reason, Profit: req.Profit, ClosePrice: req.ClosePrice, Balance: acct.Balance,
	}, nil
}

func (f *fakeStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	if a, ok := f.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, model.ErrAccountNotFound
}

func (f *fakeStore) GetAccounts(ctx context.Context, ids []int64) (map[int64]*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchReads++
	out := make(map[int64]*model.Account, len(ids))
	for _, id := range ids {
		if a, ok := f.accounts[id]; ok {
			cp := *a
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeStore) CurrentAccount(ctx context.Context, userID int64) (*model.Account, error) {
	for _, a := range f.accounts {
		if a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, model.ErrAccountNotFound
}

type fakeJobs struct {
	jobs    []*model.AlterJob
	deleted []int64
}

func (f *fakeJobs) ListActive(ctx context.Context) ([]*model.AlterJob, error) {
	out := make([]*model.AlterJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeJobs) Delete(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	kept := f.jobs[:0]
	for _, j := range f.jobs {
		if j.ID != id {
			kept = append(kept, j)
		}
	}
	f.jobs = kept
	return nil
}

type fakeShutdown struct{ stop bool }

func (f *fakeShutdown) ShutdownRequested(ctx context.Context) (bool, error) { return f.stop, nil }

type harness struct {
	svc       *Service
	store     *fakeStore
	jobs      *fakeJobs
	candles   *memory.CandleCache
	queue     *memory.Queue
	heartbeat *memory.Heartbeat
	shutdown  *fakeShutdown
	ctx       context.Context
}

// Users: 1 (user, account 10), 2 (admin with both permissions),
// 3 (admin without permissions), 4 (superadmin), 5 (user, account 20).
func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFakeStore()
	store.addAccount(&model.Account{ID: 10, UserID: 1, Balance: 1000, Currency: "USD"})
	store.addAccount(&model.Account{ID: 20, UserID: 5, Balance: 5000, Currency: "USD"})

	h := &harness{
		store:     store,
		jobs:      &fakeJobs{},
		candles:   memory.NewCandleCache(),
		queue:     memory.NewQueue(),
		heartbeat: memory.NewHeartbeat(),
		shutdown:  &fakeShutdown{},
		ctx:       context.Background(),
	}
	h.svc = NewService(ServiceDeps{
		Pairs: []model.PairSpec{
			{Symbol: "BTC/USD", FeedSymbol: "BTCUSDT", LotSize: 1, Precision: 2},
			{Symbol: "ETH/USD", FeedSymbol: "ETHUSDT", LotSize: 1, Precision: 2},
		},
		Intervals: []string{"1m", "5m"},
		Tokens: fakeTokens{
			"user":   {UserID: 1, Role: model.RoleUser},
			"admin":  {UserID: 2, Role: model.RoleAdmin},
			"nobody": {UserID: 3, Role: model.RoleAdmin},
			"root":   {UserID: 4, Role: model.RoleSuperAdmin},
			"other":  {UserID: 5, Role: model.RoleUser},
		},
		Permissions: fakePermissions{2: {model.PermManageAccounts, model.PermManageTrades}},
		Trades:      store,
		Accounts:    store,
		Jobs:        h.jobs,
		Candles:     h.candles,
		Queue:       h.queue,
		Liveness:    h.heartbeat,
		Shutdown:    h.shutdown,
		Monitor:     domainservice.MonitorConfig{MarginCallLevel: 100, StopOutLevel: 50, SweepEvery: 1},
		Config:      Config{TickInterval: time.Second, CallTimeout: time.Second},
	})
	return h
}

func (h *harness) connect(t *testing.T, id, token string) *fakePeer {
	t.Helper()
	p := newPeer(id)
	h.svc.handleEvent(h.ctx, event{kind: evConnect, peer: p, id: id})
	if token != "" {
		h.send(id, `{"type":"auth","token":"`+token+`"}`)
		if len(p.ofType(t, FrameAuthSuccess)) != 1 {
			t.Fatalf("%s: expected auth_success, got %v", id, p.types(t))
		}
	}
	p.reset()
	return p
}

func (h *harness) send(id, msg string) {
	h.svc.handleEvent(h.ctx, event{kind: evMessage, id: id, data: []byte(msg)})
}

func (h *harness) tick(pair string, price float64) {
	h.svc.prices.Apply(model.Tick{Symbol: pair, Price: price, Ts: time.Now()})
}

func (h *harness) setJobs(jobs ...*model.AlterJob) {
	h.jobs.jobs = jobs
	h.svc.refreshJobs(h.ctx)
}
