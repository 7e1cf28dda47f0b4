package scheduler

import (
	"context"
	"sync"

	"github.com/tokenscale/inference-gateway/src/models"
)

// Handle is the completion handle owned by exactly one request. The executor
// resolves it exactly once: a stream of tokens ending in Complete, or a
// single Fail. Resolution is final; later calls cannot change the outcome.
type Handle struct {
	id        string
	streaming bool

	ctx    context.Context
	cancel context.CancelFunc

	tokens chan models.TokenChunk
	ready  chan struct{} // closed at first token or terminal outcome
	done   chan struct{} // closed at terminal outcome

	mu           sync.Mutex
	produced     bool // at least one token reached the channel
	resolved     bool
	tokensClosed bool
	text         string
	err          error
	metrics      *models.InferenceMetrics
}

// Result is what Await yields: a token stream for streaming requests, the
// complete text otherwise.
type Result struct {
	Stream <-chan models.TokenChunk
	Text   string
}

func newHandle(req *models.InferenceRequest, buffer int, parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		id:        req.ID,
		streaming: req.Stream,
		ctx:       ctx,
		cancel:    cancel,
		tokens:    make(chan models.TokenChunk, buffer),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Streaming() bool { return h.streaming }

// Context is canceled when the request is canceled or the scheduler stops.
// The executor derives its network calls from it.
func (h *Handle) Context() context.Context { return h.ctx }

// Done is closed once the handle has its terminal outcome.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Resolved() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolved
}

// Err returns the terminal failure, nil before resolution or on success.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Metrics is populated once the request completes successfully.
func (h *Handle) Metrics() *models.InferenceMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metrics
}

// Await blocks until the request produces its first token (streaming) or its
// terminal outcome (non-streaming). A failure before any token surfaces as
// the returned error; a mid-stream failure closes the stream early and is
// available via Err after draining.
func (h *Handle) Await(ctx context.Context) (*Result, error) {
	if h.streaming {
		select {
		case <-h.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		h.mu.Lock()
		err, produced := h.err, h.produced
		h.mu.Unlock()
		if err != nil && !produced {
			return nil, err
		}
		return &Result{Stream: h.tokens}, nil
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return &Result{Text: h.text}, nil
}

// Cancel resolves a queued request with a cancellation outcome or tears down
// a live stream. Safe to call at any point; siblings in the same batch are
// untouched.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if !h.resolved {
		h.resolved = true
		h.err = models.ErrCanceled
		h.signalLocked()
		close(h.done)
	}
	h.mu.Unlock()

	// Wakes a producer blocked on Push and aborts the in-flight HTTP call.
	h.cancel()
}

// Push delivers one token chunk to the consumer. Only the producing executor
// goroutine calls it. Blocks when the consumer lags (bounded channel) and
// returns ErrCanceled once the request is torn down.
func (h *Handle) Push(content string) error {
	h.mu.Lock()
	if h.resolved {
		err := h.err
		h.mu.Unlock()
		if err == nil {
			err = models.ErrCanceled
		}
		return err
	}
	if !h.produced {
		h.produced = true
		h.signalLocked()
	}
	h.mu.Unlock()

	select {
	case h.tokens <- models.TokenChunk{Content: content}:
		return nil
	case <-h.ctx.Done():
		return models.ErrCanceled
	}
}

// Complete resolves the handle successfully. For streaming requests the
// tokens were already pushed and text carries their concatenation.
func (h *Handle) Complete(text string, m *models.InferenceMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolved {
		return
	}
	h.resolved = true
	h.text = text
	h.metrics = m
	h.signalLocked()
	close(h.done)
}

// Fail resolves the handle with a terminal failure. The first resolution
// wins: a Fail racing a Cancel or Complete is a no-op.
func (h *Handle) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolved {
		return
	}
	h.resolved = true
	h.err = err
	h.signalLocked()
	close(h.done)
}

// CloseStream ends the token channel. Only the producing executor goroutine
// calls it (deferred), so it can never race a Push on the same handle.
// Requests that fail before dispatch never expose their stream, so the
// channel staying open there is harmless.
func (h *Handle) CloseStream() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.tokensClosed {
		h.tokensClosed = true
		close(h.tokens)
	}
}

func (h *Handle) signalLocked() {
	select {
	case <-h.ready:
	default:
		close(h.ready)
	}
}
