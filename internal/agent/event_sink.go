package agent

import (
	"context"
	"sync/atomic"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

// EventSink receives agent events during processing. Implementations must
// be safe to call from multiple goroutines.
type EventSink interface {
	Emit(ctx context.Context, e models.AgentEvent)
}

// NopSink discards every event. Used when no caller is listening.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, e models.AgentEvent) {}

// BackpressureConfig sizes a BackpressureSink's two lanes.
type BackpressureConfig struct {
	// HighPriBuffer sizes the lane for every non-thinking event: skill_call,
	// skill_result, code_execute, code_result, answer, warning, error, done.
	HighPriBuffer int

	// LowPriBuffer sizes the lane for events that may be dropped under
	// load: thinking deltas.
	LowPriBuffer int
}

// DefaultBackpressureConfig returns sensible defaults.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{HighPriBuffer: 32, LowPriBuffer: 256}
}

// BackpressureSink implements two-lane backpressure for a streamed run.
// High-priority events (every kind except thinking) are not dropped while
// ctx is live; once ctx is done, one that cannot be queued at once is
// dropped and counted. Low-priority events (thinking deltas) are dropped
// once their lane fills,
// so a slow consumer can't stall the engine on a chatty model. The HTTP
// transport runs the engine in its own goroutine and drains the merged
// channel, so the request handler and the engine only ever meet here.
type BackpressureSink struct {
	highPri chan models.AgentEvent
	lowPri  chan models.AgentEvent
	merged  chan models.AgentEvent
	dropped uint64
	closed  uint32
}

// NewBackpressureSink creates a sink and its merged output channel.
func NewBackpressureSink(config BackpressureConfig) (*BackpressureSink, <-chan models.AgentEvent) {
	if config.HighPriBuffer <= 0 {
		config.HighPriBuffer = 32
	}
	if config.LowPriBuffer <= 0 {
		config.LowPriBuffer = 256
	}

	s := &BackpressureSink{
		highPri: make(chan models.AgentEvent, config.HighPriBuffer),
		lowPri:  make(chan models.AgentEvent, config.LowPriBuffer),
		merged:  make(chan models.AgentEvent, config.HighPriBuffer),
	}
	go s.mergeLoop()
	return s, s.merged
}

func (s *BackpressureSink) mergeLoop() {
	defer close(s.merged)

	for {
		select {
		case e, ok := <-s.highPri:
			if ok {
				s.merged <- e
				continue
			}
			for e := range s.lowPri {
				s.merged <- e
			}
			return
		default:
		}

		select {
		case e, ok := <-s.highPri:
			if ok {
				s.merged <- e
			} else {
				for e := range s.lowPri {
					s.merged <- e
				}
				return
			}
		case e, ok := <-s.lowPri:
			if ok {
				s.merged <- e
			}
		}
	}
}

// Emit routes e to its lane. Terminal and result events block until
// delivered or ctx is done; droppable events are dropped when their lane
// is full.
func (s *BackpressureSink) Emit(ctx context.Context, e models.AgentEvent) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	if isDroppableEvent(e.Type) {
		select {
		case s.lowPri <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
		return
	}

	select {
	case s.highPri <- e:
	case <-ctx.Done():
		select {
		case s.highPri <- e:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
}

// DroppedCount returns the number of events dropped so far: thinking
// deltas that found their lane full, plus any high-priority event that
// could not be queued after ctx was done.
func (s *BackpressureSink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close stops the sink and closes its output channel. No more events
// should be emitted afterward.
func (s *BackpressureSink) Close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	close(s.highPri)
	close(s.lowPri)
}

// isDroppableEvent reports whether t may be dropped under backpressure.
// Only thinking deltas are droppable; every other event kind either
// carries an observation the caller needs or is terminal.
func isDroppableEvent(t models.EventType) bool {
	return t == models.EventThinking
}
