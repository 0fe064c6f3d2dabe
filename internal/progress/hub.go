package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes Hub buffering.
//   - Buffer: capacity of the inbound channel (default 2048).
//   - BatchSize: deliver once this many events are pending (default 256).
//   - FlushEvery: deliver pending events at least this often (default 250ms).
//   - SinkTimeout: deadline for a single sink call (default 5s).
type Config struct {
	Buffer      int
	BatchSize   int
	FlushEvery  time.Duration
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBuffer      = 2048
	defaultBatchSize   = 256
	defaultFlushEvery  = 250 * time.Millisecond
	defaultSinkTimeout = 5 * time.Second
)

// Hub fans events out to sinks. Emit is safe for concurrent use. When the
// buffer is full, milestone events are dropped but OUTCOME events wait for
// room, so the per-pair counts the sinks keep stay exact.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	in   chan Event
	quit chan struct{}
	done chan struct{}

	dropped  atomic.Int64
	closing  atomic.Bool
	once     sync.Once
	closeCtx context.Context
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger.Named("progress"),
		in:     make(chan Event, cfg.Buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if evt.Stage == StageOutcome {
		select {
		case h.in <- evt:
		case <-h.done:
		}
		return
	}
	select {
	case h.in <- evt:
	default:
		if h.dropped.Add(1) == 1 {
			h.logger.Warn("progress buffer full, dropping milestone events")
		}
	}
}

// Dropped returns how many events were discarded for lack of buffer space.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close delivers what is pending, closes the sinks and waits for the Hub
// goroutine to exit or ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.once.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		if n := h.dropped.Load(); n > 0 {
			h.logger.Info("progress events dropped", zap.Int64("dropped", n))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.BatchSize)
	for {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.BatchSize {
				h.deliver(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				h.deliver(pending)
				pending = pending[:0]
			}
		case <-h.quit:
		drain:
			for {
				select {
				case evt := <-h.in:
					pending = append(pending, evt)
				default:
					break drain
				}
			}
			h.deliver(pending)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("progress sink failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
