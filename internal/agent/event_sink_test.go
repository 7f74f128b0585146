package agent

import (
	"context"
	"testing"

	"github.com/nexus-skills/orchestrator/pkg/models"
)

func TestBackpressureSink_DropsOnlyThinking(t *testing.T) {
	sink, out := NewBackpressureSink(BackpressureConfig{HighPriBuffer: 4, LowPriBuffer: 1})

	// Overfill the low-priority lane well past the total pipeline capacity
	// (lane buffer + merge buffer) so drops are guaranteed regardless of
	// how far the merge goroutine has drained.
	for i := 0; i < 20; i++ {
		sink.Emit(context.Background(), models.AgentEvent{Type: models.EventThinking, Sequence: uint64(i)})
	}

	sink.Emit(context.Background(), models.AgentEvent{Type: models.EventSkillResult})
	sink.Emit(context.Background(), models.AgentEvent{Type: models.EventDone})
	sink.Close()

	var highPri, thinking int
	for e := range out {
		if e.Type == models.EventThinking {
			thinking++
		} else {
			highPri++
		}
	}
	if highPri != 2 {
		t.Errorf("high-priority events delivered = %d, want 2 (never dropped)", highPri)
	}
	if thinking == 0 {
		t.Error("expected at least one thinking event delivered")
	}
	if sink.DroppedCount() == 0 {
		t.Error("expected overflow thinking events to be counted as dropped")
	}
}

func TestBackpressureSink_CloseIsIdempotent(t *testing.T) {
	sink, out := NewBackpressureSink(DefaultBackpressureConfig())
	sink.Close()
	sink.Close()
	sink.Emit(context.Background(), models.AgentEvent{Type: models.EventDone})
	for range out {
		t.Fatal("no events should be delivered after Close")
	}
}
