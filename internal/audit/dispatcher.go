package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/store"
)

// Config controls dispatcher buffering and delivery.
type Config struct {
	Enabled        bool
	BufferSize     int
	DropIfFull     bool
	MaxAttempts    int
	RetryBackoff   time.Duration
	PublishTimeout time.Duration
}

// Dispatcher asynchronously forwards events to a publisher, retrying each
// event up to MaxAttempts times with doubling backoff.
type Dispatcher struct {
	cfg       Config
	publisher Publisher
	ch        chan store.SecurityEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	onFailure func(store.SecurityEvent, error)
}

func NewDispatcher(cfg Config, publisher Publisher) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if publisher == nil {
		publisher = NoOpPublisher{}
	}

	d := &Dispatcher{
		cfg:       cfg,
		publisher: publisher,
		ch:        make(chan store.SecurityEvent, cfg.BufferSize),
		done:      make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// OnFailure registers a callback invoked after an event exhausts its
// attempts. It must be set before the first Emit.
func (d *Dispatcher) OnFailure(fn func(store.SecurityEvent, error)) {
	if d == nil {
		return
	}
	d.onFailure = fn
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event store.SecurityEvent) {
	var err error
	backoff := d.cfg.RetryBackoff
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err = d.publisher.Publish(ctx, event)
		cancel()
		if err == nil {
			d.published.Add(1)
			return
		}
		if attempt < d.cfg.MaxAttempts && backoff > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	d.failed.Add(1)
	if d.onFailure != nil {
		d.onFailure(event, err)
	}
}

func (d *Dispatcher) Emit(ctx context.Context, event store.SecurityEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events and drains the buffer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

func (d *Dispatcher) Published() uint64 {
	if d == nil {
		return 0
	}
	return d.published.Load()
}
