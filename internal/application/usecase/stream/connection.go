package stream

import "tradestream/internal/domain/model"

// Peer is the transport side of one client socket.
type Peer interface {
	ID() string
	// Send queues a frame without blocking; false means the client is too
	// slow and should be dropped.
	Send(frame []byte) bool
	Close()
}

type TradePush int

const (
	TradePushNone TradePush = iota
	TradePushAll
	TradePushPairs
)

// Connection is the per-socket subscription state. Only the stream loop
// touches it.
type Connection struct {
	peer Peer

	UserID    int64
	Role      model.Role
	AccountID int64

	tickers    map[string]struct{}
	charts     map[string]string // pair -> interval
	tradePush  TradePush
	tradePairs map[string]struct{}

	watchAccounts map[int64]struct{}
	watchTrades   map[int64]struct{}

	alteredSent map[string]float64 // pair -> last altered price pushed
}

func newConnection(p Peer) *Connection {
	return &Connection{
		peer:          p,
		tickers:       make(map[string]struct{}),
		charts:        make(map[string]string),
		tradePairs:    make(map[string]struct{}),
		watchAccounts: make(map[int64]struct{}),
		watchTrades:   make(map[int64]struct{}),
		alteredSent:   make(map[string]float64),
	}
}

func (c *Connection) ID() string { return c.peer.ID() }

func (c *Connection) Authenticated() bool { return c.UserID != 0 }

func (c *Connection) identity() *model.Identity {
	if !c.Authenticated() {
		return nil
	}
	return &model.Identity{UserID: c.UserID, Role: c.Role}
}

// pushesTrade reports whether openTrades should include a position on pair.
func (c *Connection) pushesTrade(pair string) bool {
	switch c.tradePush {
	case TradePushAll:
		return true
	case TradePushPairs:
		_, ok := c.tradePairs[pair]
		return ok
	}
	return false
}

func (c *Connection) watchesTrade(ev *tradeRef) bool {
	if _, ok := c.watchTrades[ev.tradeID]; ok {
		return true
	}
	_, ok := c.watchAccounts[ev.accountID]
	return ok
}

type tradeRef struct {
	tradeID   int64
	accountID int64
}

func (c *Connection) Tickers() []string {
	out := make([]string, 0, len(c.tickers))
	for p := range c.tickers {
		out = append(out, p)
	}
	return out
}
