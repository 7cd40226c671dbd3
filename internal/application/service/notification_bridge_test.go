package service

import (
	"context"
	"errors"
	"testing"

	"tradestream/internal/application/port"
	"tradestream/internal/infrastructure/storage/memory"
)

type recordingDispatcher struct {
	got []port.TradeClosedEvent
}

func (d *recordingDispatcher) DispatchTradeClosed(ev port.TradeClosedEvent) int {
	d.got = append(d.got, ev)
	return 1
}

type failingQueue struct{}

func (failingQueue) Push(ctx context.Context, ev port.TradeClosedEvent) error {
	return errors.New("queue down")
}

func (failingQueue) Drain(ctx context.Context) ([]port.TradeClosedEvent, error) {
	return nil, errors.New("queue down")
}

func TestBridgeDeliversDuplicates(t *testing.T) {
	q := memory.NewQueue()
	bridge := NewNotificationBridge(q)
	ctx := context.Background()

	ev := port.TradeClosedEvent{UserID: 7, TradeID: 42, Reason: "manual", Profit: 5}
	if err := bridge.Enqueue(ctx, ev); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if err := bridge.Enqueue(ctx, ev); err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}

	d := &recordingDispatcher{}
	n, err := bridge.DrainAndDispatch(ctx, d)
	if err != nil {
		t.Fatalf("DrainAndDispatch failed: %v", err)
	}
	if n != 2 || len(d.got) != 2 {
		t.Fatalf("expected 2 deliveries, got frames=%d events=%d", n, len(d.got))
	}
	if d.got[0].Ts == 0 {
		t.Error("expected enqueue to stamp a timestamp")
	}

	n, _ = bridge.DrainAndDispatch(ctx, d)
	if n != 0 {
		t.Errorf("expected an empty queue after drain, got %d frames", n)
	}
}

func TestBridgeRejectsIncompleteEvents(t *testing.T) {
	bridge := NewNotificationBridge(memory.NewQueue())
	if err := bridge.Enqueue(context.Background(), port.TradeClosedEvent{TradeID: 1}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestBridgeWrapsQueueErrors(t *testing.T) {
	bridge := NewNotificationBridge(failingQueue{})
	if err := bridge.Enqueue(context.Background(), port.TradeClosedEvent{UserID: 1, TradeID: 1}); err == nil {
		t.Error("expected enqueue error")
	}
	if _, err := bridge.DrainAndDispatch(context.Background(), &recordingDispatcher{}); err == nil {
		t.Error("expected drain error")
	}
}
