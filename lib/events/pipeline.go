package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/logging"
)

var log = logging.GetLogger("events")

// defaultBufferSize is the bound of the pipeline queue. On overflow the
// oldest buffered event is dropped and a warning is logged.
const defaultBufferSize = 4096

// --------------------------------------------------------------------------
// Pipeline
// --------------------------------------------------------------------------

// Pipeline carries storage events from a local store to its subscribers.
//
// Producers call Emit from any goroutine. A single consumer goroutine
// collects events into batches and delivers a batch once it reaches
// maxBatch events or once the collection window elapses, whichever comes
// first. Subscribers receive batches sequentially on the consumer
// goroutine, so events for a single key keep the order they occurred in.
type Pipeline[K comparable, V any] struct {
	maxBatch int
	window   time.Duration

	queue chan Event[K, V]

	subMu  sync.RWMutex
	subs   map[int]func([]Event[K, V])
	nextID int

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
	closed   atomic.Bool
}

// NewPipeline creates a pipeline that emits batches of up to maxBatch events
// or whatever accumulated within the given window.
func NewPipeline[K comparable, V any](maxBatch int, window time.Duration) *Pipeline[K, V] {
	if maxBatch < 1 {
		maxBatch = 1
	}
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	p := &Pipeline[K, V]{
		maxBatch: maxBatch,
		window:   window,
		queue:    make(chan Event[K, V], defaultBufferSize),
		subs:     map[int]func([]Event[K, V]){},
		stop:     make(chan struct{}),
	}
	p.done.Add(1)
	go p.consume()
	return p
}

// Emit queues an event for delivery. When the buffer is full the oldest
// queued event is dropped with a warning rather than blocking the store.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *Pipeline[K, V]) Emit(ev Event[K, V]) {
	if p.closed.Load() {
		return
	}
	for {
		select {
		case p.queue <- ev:
			return
		default:
		}
		// overflow: drop the oldest event to make room
		select {
		case dropped := <-p.queue:
			log.Warnf("event buffer overflow, dropping oldest %s event", dropped.Type)
		default:
		}
	}
}

// Subscribe registers a batch consumer and returns a cancel function that
// releases the subscription. Cancel functions may be called in any order
// and more than once.
func (p *Pipeline[K, V]) Subscribe(fn func([]Event[K, V])) (cancel func()) {
	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			p.subMu.Unlock()
		})
	}
}

// Close emits a final closing event, flushes the queue and stops the
// consumer. Emit calls after Close are ignored.
func (p *Pipeline[K, V]) Close() {
	p.stopOnce.Do(func() {
		if !p.closed.Swap(true) {
			// closing event goes directly into the queue, bypassing the
			// closed check in Emit
			select {
			case p.queue <- Event[K, V]{Type: TypeClosing}:
			default:
			}
		}
		close(p.stop)
		p.done.Wait()
	})
}

// --------------------------------------------------------------------------
// Consumer
// --------------------------------------------------------------------------

// consume is the single consumer loop batching queued events
func (p *Pipeline[K, V]) consume() {
	defer p.done.Done()

	timer := time.NewTimer(p.window)
	defer timer.Stop()

	batch := make([]Event[K, V], 0, p.maxBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.deliver(batch)
		batch = make([]Event[K, V], 0, p.maxBatch)
	}

	for {
		select {
		case ev := <-p.queue:
			batch = append(batch, ev)
			if len(batch) >= p.maxBatch {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.window)
			}
		case <-timer.C:
			flush()
			timer.Reset(p.window)
		case <-p.stop:
			// drain whatever is still queued, then deliver the rest
			for {
				select {
				case ev := <-p.queue:
					batch = append(batch, ev)
					if len(batch) >= p.maxBatch {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

// deliver hands one batch to all current subscribers
func (p *Pipeline[K, V]) deliver(batch []Event[K, V]) {
	p.subMu.RLock()
	subs := make([]func([]Event[K, V]), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.subMu.RUnlock()

	for _, fn := range subs {
		fn(batch)
	}
}
