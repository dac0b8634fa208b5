// Kindly turns many near-simultaneous "fetch one document by id" calls into a single "fetch documents by ids" call.
//
// Each Processor owns a FIFO of pending ids and a debounce timer. It moves through three states:
//   - Idle: nothing queued, no timer.
//   - Scheduled: ids are queued and the timer is armed; every new arrival re-arms the timer (debounce).
//   - Dispatching: a bulk fetch is in flight. New arrivals are queued but never arm a timer, so at most one fetch
//     runs at any time. When the fetch settles the processor goes back to Scheduled if the queue is non-empty,
//     otherwise to Idle.
//
// A caller asking for an id that is already queued joins the existing request; both settle with the same result.
// Retrying failed fetches is the caller's job.

package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nobletooth/kindly/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotFound is returned to callers whose id was absent from the bulk fetch result.
var ErrNotFound = errors.New("document not found")

var (
	batchDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_dispatches_total",
		Help: "Total number of bulk fetches issued by batch processors.",
	}, []string{"collection", "status" /* ok | error */})
	batchSizes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_size",
		Help:    "Number of ids sent in a single bulk fetch.",
		Buckets: prometheus.LinearBuckets(1, 3, 10),
	}, []string{"collection"})
	batchNotFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_not_found_total",
		Help: "Total number of requested ids missing from bulk fetch results.",
	}, []string{"collection"})
)

// FetchFn loads the documents of all `ids` at once. Ids that don't exist must be omitted from the returned map.
type FetchFn[T any] func(ctx context.Context, ids []string) (map[string]T, error)

// State is the dispatch state of a Processor.
type State int

const (
	Idle State = iota
	Scheduled
	Dispatching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Dispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Options configures a Processor.
type Options struct {
	Window       time.Duration   // Debounce window before a dispatch.
	MaxBatchSize int             // Upper bound of ids per bulk fetch.
	Clock        clockwork.Clock // Defaults to the real clock.
}

// result is a multi-waiter future; `done` is closed once value and err are set.
type result[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newResult[T any]() *result[T] {
	return &result[T]{done: make(chan struct{})}
}

func (r *result[T]) settle(value T, err error) {
	r.value, r.err = value, err
	close(r.done)
}

// wait blocks until the result settles or `ctx` is done. Abandoning a result doesn't cancel its fetch.
func (r *result[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return *new(T), ctx.Err()
	}
}

// pendingRequest is an id waiting for the next dispatch along with the result its callers wait on.
type pendingRequest[T any] struct {
	id     string
	result *result[T]
}

// Processor coalesces single id requests of one collection into bulk fetches.
type Processor[T any] struct {
	collection   string
	fetch        FetchFn[T]
	window       time.Duration
	maxBatchSize int
	clock        clockwork.Clock
	ctx          context.Context // Bulk fetches run on this context rather than on any caller's.

	mux     sync.Mutex
	state   State
	timer   clockwork.Timer                  // Non-nil only in Scheduled state.
	queue   pendingQueue[*pendingRequest[T]] // Not yet dispatched requests, oldest first.
	pending map[string]*pendingRequest[T]    // Index of `queue` by id.
}

// NewProcessor builds a processor for `collection`. `ctx` is handed to every bulk fetch.
func NewProcessor[T any](ctx context.Context, collection string, fetch FetchFn[T], opts Options) *Processor[T] {
	if opts.MaxBatchSize <= 0 {
		utils.RaiseInvariant("batch", "non_positive_batch_size",
			"Invalid max batch size has been given to batch processor.",
			"collection", collection, "maxBatchSize", opts.MaxBatchSize)
		opts.MaxBatchSize = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Processor[T]{
		collection:   collection,
		fetch:        fetch,
		window:       opts.Window,
		maxBatchSize: opts.MaxBatchSize,
		clock:        opts.Clock,
		ctx:          ctx,
		pending:      make(map[string]*pendingRequest[T]),
	}
}

// Request returns the document with the given id once the batch containing it has been fetched.
// It returns an error wrapping ErrNotFound if the id doesn't exist, or the bulk fetch error.
func (p *Processor[T]) Request(ctx context.Context, id string) (T, error) {
	return p.enqueue(id).wait(ctx)
}

// enqueue adds `id` to the queue, or joins the queued request for the same id.
func (p *Processor[T]) enqueue(id string) *result[T] {
	p.mux.Lock()
	defer p.mux.Unlock()

	if request, alreadyQueued := p.pending[id]; alreadyQueued {
		return request.result
	}
	request := &pendingRequest[T]{id: id, result: newResult[T]()}
	p.queue.PushBack(request)
	p.pending[id] = request

	switch p.state {
	case Idle:
		p.schedule()
	case Scheduled:
		// Debounce: push the dispatch back by a full window. If Stop fails the timer has already fired and the
		// dispatch is waiting for the lock; this request joins it.
		if p.timer.Stop() {
			p.timer = p.clock.AfterFunc(p.window, p.dispatch)
		}
	case Dispatching:
		// Picked up once the in-flight fetch settles.
	}
	return request.result
}

// schedule arms the dispatch timer. Must be called with the lock held.
func (p *Processor[T]) schedule() {
	p.state = Scheduled
	p.timer = p.clock.AfterFunc(p.window, p.dispatch)
}

// dispatch runs on the timer goroutine and performs one bulk fetch.
func (p *Processor[T]) dispatch() {
	p.mux.Lock()
	if p.state != Scheduled {
		utils.RaiseInvariant("batch", "dispatch_outside_scheduled",
			"Dispatch timer fired while processor was not scheduled.",
			"collection", p.collection, "state", p.state)
		p.mux.Unlock()
		return
	}
	requests := p.queue.PopFront(p.maxBatchSize)
	for _, request := range requests {
		delete(p.pending, request.id)
	}
	p.timer = nil
	if len(requests) == 0 {
		utils.RaiseInvariant("batch", "empty_dispatch", "Dispatch was scheduled with an empty queue.",
			"collection", p.collection)
		p.state = Idle
		p.mux.Unlock()
		return
	}
	p.state = Dispatching
	p.mux.Unlock()

	ids := make([]string, len(requests))
	for i, request := range requests {
		ids[i] = request.id
	}
	batchSizes.WithLabelValues(p.collection).Observe(float64(len(ids)))
	values, err := p.fetch(p.ctx, ids)
	p.settle(requests, values, err)

	p.mux.Lock()
	defer p.mux.Unlock()
	if p.queue.Len() > 0 {
		p.schedule()
	} else {
		p.state = Idle
	}
}

// settle fans the bulk fetch result out to every request of the dispatch.
func (p *Processor[T]) settle(requests []*pendingRequest[T], values map[string]T, err error) {
	if err != nil {
		batchDispatches.WithLabelValues(p.collection, "error").Inc()
		slog.Debug("Bulk fetch failed.", "collection", p.collection, "size", len(requests), "error", err)
		for _, request := range requests {
			request.result.settle(*new(T), err)
		}
		return
	}
	batchDispatches.WithLabelValues(p.collection, "ok").Inc()
	for _, request := range requests {
		if value, found := values[request.id]; found {
			request.result.settle(value, nil)
			continue
		}
		batchNotFound.WithLabelValues(p.collection).Inc()
		request.result.settle(*new(T), fmt.Errorf("%w: %s/%s", ErrNotFound, p.collection, request.id))
	}
}

// State returns the current dispatch state.
func (p *Processor[T]) State() State {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.state
}

// Queued returns the ids waiting for a dispatch, oldest first.
func (p *Processor[T]) Queued() []string {
	p.mux.Lock()
	defer p.mux.Unlock()
	ids := make([]string, 0, p.queue.Len())
	for _, request := range p.queue.Values() {
		ids = append(ids, request.id)
	}
	return ids
}

// Collection returns the name of the collection this processor fetches from.
func (p *Processor[T]) Collection() string {
	return p.collection
}
