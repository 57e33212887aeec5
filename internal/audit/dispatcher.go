package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// dropLogEvery limits drop warnings to one per this many dropped events.
const dropLogEvery = 1000

// Config controls dispatcher buffering behavior. Logger receives drop and
// sink failure warnings; nil disables them.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Logger     logrus.FieldLogger
}

// Dispatcher forwards events to a sink from a single goroutine, so a sink
// sees events in emission order. A nil *Dispatcher is a valid no-op.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup

	dropped atomic.Uint64
	failed  atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.loop()

	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// deliver hands event to the sink. A panicking sink loses that event only.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			if d.cfg.Logger != nil {
				d.cfg.Logger.WithFields(logrus.Fields{
					"event_type": event.EventType,
					"panic":      r,
				}).Error("audit sink panicked")
			}
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. With DropIfFull a full buffer drops the event;
// otherwise Emit waits for space, ctx cancellation or Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			n := d.dropped.Add(1)
			if d.cfg.Logger != nil && n%dropLogEvery == 1 {
				d.cfg.Logger.WithField("dropped_total", n).Warn("audit buffer full; dropping events")
			}
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close stops accepting events and returns once every queued event was
// handed to the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped returns the number of events dropped on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns the number of events lost to a panicking sink.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
