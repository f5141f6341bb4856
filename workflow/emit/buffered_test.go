package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitter_History(t *testing.T) {
	t.Run("stores events per run in emit order", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		emitter.Emit(Event{RunID: "run-a", Step: 1, ExecutorID: "x", Msg: "executor_invoked"})
		emitter.Emit(Event{RunID: "run-a", Step: 1, Msg: "superstep_completed"})
		emitter.Emit(Event{RunID: "run-b", Step: 1, Msg: "executor_invoked"})

		history := emitter.GetHistory("run-a")
		if len(history) != 2 {
			t.Fatalf("expected 2 events for run-a, got %d", len(history))
		}
		if history[0].Msg != "executor_invoked" || history[1].Msg != "superstep_completed" {
			t.Errorf("events out of order: %+v", history)
		}
		if len(emitter.GetHistory("run-b")) != 1 {
			t.Error("run-b history leaked or lost")
		}
	})

	t.Run("unknown run yields an empty slice", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		history := emitter.GetHistory("missing")
		if history == nil || len(history) != 0 {
			t.Errorf("expected empty slice, got %v", history)
		}
	})

	t.Run("returned history is a copy", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		emitter.Emit(Event{RunID: "run-a", Msg: "executor_invoked"})

		history := emitter.GetHistory("run-a")
		history[0].Msg = "tampered"

		if emitter.GetHistory("run-a")[0].Msg != "executor_invoked" {
			t.Error("stored events aliased by returned slice")
		}
	})
}

func TestBufferedEmitter_Filter(t *testing.T) {
	emitter := NewBufferedEmitter()
	for step := 1; step <= 3; step++ {
		emitter.Emit(Event{RunID: "run-a", Step: step, ExecutorID: "upper", Msg: "executor_invoked"})
		emitter.Emit(Event{RunID: "run-a", Step: step, Msg: "superstep_completed"})
	}

	t.Run("by message", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("run-a", HistoryFilter{Msg: "superstep_completed"})
		if len(got) != 3 {
			t.Errorf("expected 3 boundary events, got %d", len(got))
		}
	})

	t.Run("by executor", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("run-a", HistoryFilter{ExecutorID: "upper"})
		if len(got) != 3 {
			t.Errorf("expected 3 executor events, got %d", len(got))
		}
	})

	t.Run("by step range", func(t *testing.T) {
		min, max := 2, 2
		got := emitter.GetHistoryWithFilter("run-a", HistoryFilter{MinStep: &min, MaxStep: &max})
		if len(got) != 2 {
			t.Errorf("expected 2 events at step 2, got %d", len(got))
		}
		for _, ev := range got {
			if ev.Step != 2 {
				t.Errorf("event at step %d leaked through the range filter", ev.Step)
			}
		}
	})

	t.Run("conditions combine with AND", func(t *testing.T) {
		min := 3
		got := emitter.GetHistoryWithFilter("run-a", HistoryFilter{
			ExecutorID: "upper",
			Msg:        "executor_invoked",
			MinStep:    &min,
		})
		if len(got) != 1 || got[0].Step != 3 {
			t.Errorf("expected the single step-3 invocation, got %+v", got)
		}
	})

	t.Run("empty filter returns everything", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("run-a", HistoryFilter{})
		if len(got) != 6 {
			t.Errorf("expected all 6 events, got %d", len(got))
		}
	})

	t.Run("no match yields an empty slice", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("run-a", HistoryFilter{Msg: "workflow_error"})
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty slice, got %v", got)
		}
	})
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{RunID: "run-a", Msg: "executor_invoked"})
	emitter.Emit(Event{RunID: "run-b", Msg: "executor_invoked"})

	t.Run("clear one run", func(t *testing.T) {
		emitter.Clear("run-a")
		if len(emitter.GetHistory("run-a")) != 0 {
			t.Error("run-a events survived Clear")
		}
		if len(emitter.GetHistory("run-b")) != 1 {
			t.Error("Clear removed another run's events")
		}
	})

	t.Run("clear all runs", func(t *testing.T) {
		emitter.Clear("")
		if len(emitter.GetHistory("run-b")) != 0 {
			t.Error("events survived a full Clear")
		}
	})
}

func TestBufferedEmitter_ConcurrentUse(t *testing.T) {
	emitter := NewBufferedEmitter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runID := fmt.Sprintf("run-%d", i%2)
			for j := 0; j < 50; j++ {
				emitter.Emit(Event{RunID: runID, Step: j, Msg: "executor_invoked"})
				emitter.GetHistory(runID)
			}
		}(i)
	}
	wg.Wait()

	total := len(emitter.GetHistory("run-0")) + len(emitter.GetHistory("run-1"))
	if total != 400 {
		t.Errorf("expected 400 events total, got %d", total)
	}
}
