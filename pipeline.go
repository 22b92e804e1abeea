package facetrack

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// PipelineResult is delivered to the pipeline handler once per processed
// frame.
type PipelineResult struct {
	Seq    uint64
	Stream int
	Result FeedResult
	Err    error
}

type pendingFrame struct {
	seq    uint64
	stream int
	img    image.Image
}

// Pipeline feeds frames into a Tracker on a background goroutine. Each
// stream has a single pending slot: a frame still waiting when a newer
// frame of the same stream arrives is dropped, so a slow engine never
// builds up latency.
type Pipeline struct {
	// Policy decides what happens to FeedFrame errors before they reach
	// the handler. Set it before Start.
	Policy ErrorPolicy

	tracker  *Tracker
	maxFaces int
	handler  func(PipelineResult)
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[int]pendingFrame
	seq     uint64
	started bool
	closed  bool

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
}

// NewPipeline creates a pipeline that feeds t with at most maxFaces faces
// per frame and calls handler with every result.
func NewPipeline(t *Tracker, maxFaces int, handler func(PipelineResult)) (*Pipeline, error) {
	if t == nil {
		return nil, newError(KindInvalidArgument, "NewPipeline", "nil tracker")
	}
	if maxFaces <= 0 {
		return nil, newError(KindInvalidArgument, "NewPipeline", "maxFaces must be positive, got %d", maxFaces)
	}
	if handler == nil {
		handler = func(PipelineResult) {}
	}
	return &Pipeline{
		tracker:  t,
		maxFaces: maxFaces,
		handler:  handler,
		logger:   t.logger,
		pending:  make(map[int]pendingFrame),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the worker. It stops when ctx is done or Close is called;
// either way the pipeline is closed afterwards.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return newError(KindNotInitialized, "Start", "pipeline closed")
	}
	if p.started {
		return newError(KindInvalidArgument, "Start", "pipeline already started")
	}
	p.started = true
	go p.run(ctx)
	return nil
}

// Submit queues img for stream and returns its sequence number. A frame
// of the same stream still waiting to be processed is dropped.
func (p *Pipeline) Submit(img image.Image, stream int) (uint64, error) {
	if err := checkImage("Submit", img); err != nil {
		return 0, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, newError(KindNotInitialized, "Submit", "pipeline closed")
	}
	p.seq++
	seq := p.seq
	if old, ok := p.pending[stream]; ok {
		p.dropped.Add(1)
		p.logger.Debug("frame superseded before processing", "stream", stream, "seq", old.seq)
	}
	p.pending[stream] = pendingFrame{seq: seq, stream: stream, img: img}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return seq, nil
}

// Dropped returns how many submitted frames were never processed.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops the worker after the frame in progress and drops whatever is
// still pending.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.stop)
	p.mu.Unlock()

	if started {
		<-p.done
	}

	p.mu.Lock()
	p.dropped.Add(uint64(len(p.pending)))
	p.pending = make(map[int]pendingFrame)
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.finish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-p.wake:
		}

		for {
			frame, ok := p.next()
			if !ok {
				break
			}
			res, err := p.tracker.FeedFrame(frame.img, p.maxFaces, frame.stream)
			p.handler(PipelineResult{
				Seq:    frame.seq,
				Stream: frame.stream,
				Result: res,
				Err:    p.Policy.Check(err),
			})

			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			default:
			}
		}
	}
}

// finish closes the pipeline once the worker is gone, whether Close or ctx
// stopped it. Later submissions fail instead of waiting forever.
func (p *Pipeline) finish() {
	p.mu.Lock()
	p.closed = true
	p.dropped.Add(uint64(len(p.pending)))
	p.pending = make(map[int]pendingFrame)
	p.mu.Unlock()
	close(p.done)
}

// next takes the oldest pending frame across all streams.
func (p *Pipeline) next() (pendingFrame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return pendingFrame{}, false
	}
	frames := maps.Values(p.pending)
	slices.SortFunc(frames, func(a, b pendingFrame) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	delete(p.pending, frames[0].stream)
	return frames[0], true
}
