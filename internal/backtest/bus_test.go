package backtest

import (
	"testing"

	"hermes/pkg/types"
)

func TestBusFIFOOrder(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var seen []int64
	bus.Subscribe(KindMarket, func(e Event) { seen = append(seen, e.At()) })

	bus.Publish(MarketEvent{Time: 1})
	bus.Publish(MarketEvent{Time: 2})
	bus.Publish(MarketEvent{Time: 3})
	bus.ProcessAll()

	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", seen)
	}
}

func TestBusCascadedPublish(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var order []string
	bus.Subscribe(KindMarket, func(e Event) {
		order = append(order, "market")
		bus.Publish(SignalEvent{Time: e.At(), Direction: types.SignalLong})
	})
	bus.Subscribe(KindSignal, func(e Event) {
		order = append(order, "signal")
		bus.Publish(OrderEvent{Time: e.At(), Side: types.BUY})
	})
	bus.Subscribe(KindOrder, func(e Event) { order = append(order, "order") })

	bus.Publish(MarketEvent{Time: 1})
	bus.Publish(MarketEvent{Time: 2})
	bus.ProcessAll()

	// Events published while draining go to the tail: both bars are seen
	// before either bar's downstream events.
	want := []string{"market", "market", "signal", "signal", "order", "order"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestBusUnsubscribedKindIsDropped(t *testing.T) {
	t.Parallel()
	bus := NewBus()
	bus.Publish(FillEvent{Time: 1})
	bus.ProcessAll()
	if bus.Pending() != 0 {
		t.Errorf("queue not drained: %d pending", bus.Pending())
	}
}
