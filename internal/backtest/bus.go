package backtest

// Bus is a single-goroutine publish/subscribe queue. Publish appends to the
// tail; ProcessNext pops the head and delivers it to every subscriber of
// its kind, in subscription order. Handlers may publish further events,
// which are processed after everything already queued — the simulation is
// strictly serial and deterministic.
//
// Bus is not safe for concurrent use; each backtest run owns its own.
type Bus struct {
	handlers map[EventKind][]func(Event)
	queue    []Event
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[EventKind][]func(Event))}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind EventKind, fn func(Event)) {
	b.handlers[kind] = append(b.handlers[kind], fn)
}

// Publish enqueues an event at the tail.
func (b *Bus) Publish(e Event) {
	b.queue = append(b.queue, e)
}

// ProcessNext delivers the head event. Returns false when the queue is empty.
func (b *Bus) ProcessNext() bool {
	if len(b.queue) == 0 {
		return false
	}
	e := b.queue[0]
	b.queue = b.queue[1:]
	for _, fn := range b.handlers[e.Kind()] {
		fn(e)
	}
	return true
}

// ProcessAll drains the queue, including events published while draining.
func (b *Bus) ProcessAll() {
	for b.ProcessNext() {
	}
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int { return len(b.queue) }
