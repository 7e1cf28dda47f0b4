package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/models"
)

// Dispatcher turns a formed batch into backend calls. Dispatch must return
// after initiating work for every member (stream consumption runs in its own
// goroutines) and must guarantee that every member's handle resolves.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch *Batch)
}

// Member pairs a request with its completion handle for the queue and batch.
type Member struct {
	Req        *models.InferenceRequest
	Handle     *Handle
	EnqueuedAt time.Time
}

// Batch is an ordered, bounded group of members formed by the scheduler.
// Batches live only between formation and dispatch.
type Batch struct {
	ID            string
	Members       []*Member
	FirstEnqueued time.Time
}

// ContinuousBatcher decouples request arrival from dispatch. Enqueue never
// blocks; a single background loop drains the FIFO queue into batches bounded
// by size and by wait time since each batch's first member enqueued.
type ContinuousBatcher struct {
	config     *config.SchedulerConfig
	dispatcher Dispatcher
	queue      chan *Member
	log        *slog.Logger

	baseCtx  context.Context
	stop     context.CancelFunc
	loopDone chan struct{}
	inFlight atomic.Int64

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewContinuousBatcher(cfg *config.SchedulerConfig, d Dispatcher) (*ContinuousBatcher, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", cfg.MaxBatchSize)
	}
	if cfg.MaxWait <= 0 {
		return nil, fmt.Errorf("max wait must be positive, got %s", cfg.MaxWait)
	}
	if cfg.QueueCapacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", cfg.QueueCapacity)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ContinuousBatcher{
		config:     cfg,
		dispatcher: d,
		queue:      make(chan *Member, cfg.QueueCapacity),
		log:        slog.Default().With("component", "scheduler"),
		baseCtx:    ctx,
		stop:       cancel,
		loopDone:   make(chan struct{}),
	}, nil
}

// Enqueue admits a request and returns its completion handle. It never
// suspends the caller: a full queue fails fast with ErrQueueSaturated.
// The request must already carry its resolved model and tier.
func (b *ContinuousBatcher) Enqueue(req *models.InferenceRequest) (*Handle, error) {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return nil, models.ErrShuttingDown
	}

	h := newHandle(req, b.config.StreamBuffer, b.baseCtx)
	m := &Member{Req: req, Handle: h, EnqueuedAt: time.Now()}

	select {
	case b.queue <- m:
		return h, nil
	default:
		return nil, models.ErrQueueSaturated
	}
}

// Start launches the batch-formation loop.
func (b *ContinuousBatcher) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return models.ErrShuttingDown
	}
	if b.started {
		return fmt.Errorf("scheduler already started")
	}
	b.started = true

	go b.formBatches()
	return nil
}

// Stop halts batch formation, fails everything still queued with a shutdown
// outcome and cancels in-flight work. Blocks until the loop exits.
func (b *ContinuousBatcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	b.stop()
	if started {
		<-b.loopDone
	} else {
		b.drain()
	}
}

// Depth reports how many requests are waiting in the queue.
func (b *ContinuousBatcher) Depth() int {
	return len(b.queue)
}

// Capacity reports the queue's admission bound.
func (b *ContinuousBatcher) Capacity() int {
	return b.config.QueueCapacity
}

// InFlight reports dispatched members whose handles are not yet resolved.
func (b *ContinuousBatcher) InFlight() int {
	return int(b.inFlight.Load())
}

// formBatches is the single loop owning the queue. It opens a batch with the
// first available member, fills it until MaxBatchSize or until MaxWait has
// elapsed since that member enqueued, then hands it to the dispatcher.
func (b *ContinuousBatcher) formBatches() {
	defer close(b.loopDone)

	for {
		var first *Member
		select {
		case <-b.baseCtx.Done():
			b.drain()
			return
		case m := <-b.queue:
			if b.expired(m) {
				continue
			}
			first = m
		}

		batch := &Batch{
			ID:            ulid.Make().String(),
			Members:       []*Member{first},
			FirstEnqueued: first.EnqueuedAt,
		}
		timer := time.NewTimer(time.Until(first.EnqueuedAt.Add(b.config.MaxWait)))

	fill:
		for len(batch.Members) < b.config.MaxBatchSize {
			select {
			case <-b.baseCtx.Done():
				timer.Stop()
				b.failBatch(batch, models.ErrShuttingDown)
				b.drain()
				return
			case m := <-b.queue:
				if b.expired(m) {
					continue
				}
				batch.Members = append(batch.Members, m)
			case <-timer.C:
				break fill
			}
		}
		timer.Stop()

		b.dispatch(batch)
	}
}

// expired drops members that no longer need dispatch: already resolved
// (canceled while queued) or waiting past the queue budget.
func (b *ContinuousBatcher) expired(m *Member) bool {
	if m.Handle.Resolved() {
		return true
	}
	if b.config.QueueTimeout > 0 && time.Since(m.EnqueuedAt) > b.config.QueueTimeout {
		b.log.Warn("request timed out in queue",
			"request_id", m.Req.ID,
			"waited", time.Since(m.EnqueuedAt).String())
		m.Handle.Fail(models.ErrQueueTimeout)
		return true
	}
	return false
}

func (b *ContinuousBatcher) dispatch(batch *Batch) {
	for _, m := range batch.Members {
		b.inFlight.Add(1)
		go func(m *Member) {
			<-m.Handle.Done()
			b.inFlight.Add(-1)
		}(m)
	}

	b.log.Debug("batch formed",
		"batch_id", batch.ID,
		"size", len(batch.Members),
		"age", time.Since(batch.FirstEnqueued).String())

	// Dispatch initiation runs inline so batches reach the executor in
	// formation order; the executor returns once member tasks are launched.
	// If it cannot run at all, no member may be left unresolved.
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("dispatch panicked", "batch_id", batch.ID, "panic", fmt.Sprint(r))
			b.failBatch(batch, &models.DispatchError{Err: fmt.Errorf("dispatch panicked: %v", r)})
		}
	}()
	b.dispatcher.Dispatch(b.baseCtx, batch)
}

func (b *ContinuousBatcher) failBatch(batch *Batch, err error) {
	for _, m := range batch.Members {
		m.Handle.Fail(err)
	}
}

func (b *ContinuousBatcher) drain() {
	for {
		select {
		case m := <-b.queue:
			m.Handle.Fail(models.ErrShuttingDown)
		default:
			return
		}
	}
}
