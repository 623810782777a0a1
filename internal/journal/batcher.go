package journal

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/huetrack/internal/trace"
)

const (
	DefaultBatchSize  = 256
	DefaultFlushDelay = 2 * time.Second
)

// StoreFunc writes one batch of frame records.
type StoreFunc func(ctx context.Context, items []FrameRecord) error

// Batcher groups frame records so the hot path never waits on the database.
// A batch is cut when it reaches size records or delay after the last Add;
// a single writer goroutine stores cut batches in order.
type Batcher struct {
	store StoreFunc
	size  int
	delay time.Duration

	mu      sync.Mutex
	pending []FrameRecord
	queue   [][]FrameRecord
	timer   *time.Timer
	stopped bool

	wake    chan struct{}
	written sync.WaitGroup
	done    chan struct{}
}

// NewBatcher starts a batcher that hands batches to store. Non-positive
// size or delay take the defaults.
func NewBatcher(store StoreFunc, size int, delay time.Duration) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	b := &Batcher{
		store: store,
		size:  size,
		delay: delay,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go b.writer()
	return b
}

// Add queues rec. It is a no-op once Stop has been called.
func (b *Batcher) Add(rec FrameRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.pending = append(b.pending, rec)
	switch {
	case len(b.pending) >= b.size:
		b.cutLocked()
	case b.timer == nil:
		b.timer = time.AfterFunc(b.delay, b.Flush)
	default:
		b.timer.Reset(b.delay)
	}
}

// Flush cuts the pending records into a batch without waiting for it to be
// stored.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.cutLocked()
	}
}

// Wait blocks until every batch cut so far has been stored.
func (b *Batcher) Wait() { b.written.Wait() }

// Stop cuts the remaining records and returns once the writer has stored
// them. Later calls return immediately.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.cutLocked()
	b.stopped = true
	close(b.wake)
	b.mu.Unlock()
	<-b.done
}

func (b *Batcher) cutLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	b.queue = append(b.queue, b.pending)
	b.pending = make([]FrameRecord, 0, b.size)
	b.written.Add(1)
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Batcher) writer() {
	defer close(b.done)
	for range b.wake {
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				b.mu.Unlock()
				break
			}
			batch := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()

			b.write(batch)
			b.written.Done()
		}
	}
}

func (b *Batcher) write(batch []FrameRecord) {
	ctx, span := trace.StartSpan(context.Background(), "journal.write_frames")
	defer span.End()
	span.SetAttr("frames", len(batch))

	if err := b.store(ctx, batch); err != nil {
		span.SetAttr("error", err.Error())
		trace.Logger(ctx).Warn("dropping frame batch", "error", err, "frames", len(batch))
	}
}
