package workflow

import (
	"context"
	"strings"
	"testing"
)

func stringExecutor(id string) *FuncExecutor {
	return NewFuncExecutor(id, func(rb *RouteBuilder) *RouteBuilder {
		return AddHandler(rb, func(ctx context.Context, wc WorkflowContext, s string) error {
			return nil
		})
	})
}

func TestBuilder_Build(t *testing.T) {
	t.Run("valid linear graph", func(t *testing.T) {
		wf, err := NewBuilder().
			WithName("linear").
			WithDescription("two stages").
			AddExecutor(stringExecutor("a")).
			AddExecutor(stringExecutor("b")).
			StartAt("a").
			Connect("a", "b", nil).
			Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if wf.Name() != "linear" || wf.Description() != "two stages" {
			t.Errorf("metadata lost: %q / %q", wf.Name(), wf.Description())
		}
		if wf.StartID() != "a" {
			t.Errorf("expected start a, got %q", wf.StartID())
		}
		ids := wf.ExecutorIDs()
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Errorf("expected sorted ids [a b], got %v", ids)
		}
		if len(wf.Edges()) != 1 {
			t.Errorf("expected 1 edge, got %d", len(wf.Edges()))
		}
	})

	t.Run("aggregates all validation failures", func(t *testing.T) {
		// Missing start, unknown edge endpoints, and an executor with no
		// handlers must all surface in a single Build error.
		none := NewFuncExecutor("none", func(rb *RouteBuilder) *RouteBuilder {
			return rb
		})
		_, err := NewBuilder().
			AddExecutor(none).
			Connect("ghost", "phantom", nil).
			Build()
		if err == nil {
			t.Fatal("expected Build to fail")
		}
		msg := err.Error()
		for _, want := range []string{
			"registers no handlers",
			`unknown source executor "ghost"`,
			`unknown target executor "phantom"`,
			"start executor not set",
		} {
			if !strings.Contains(msg, want) {
				t.Errorf("aggregate error missing %q:\n%s", want, msg)
			}
		}
	})

	t.Run("rejects duplicate and invalid executors", func(t *testing.T) {
		_, err := NewBuilder().
			AddExecutor(nil).
			AddExecutor(stringExecutor("")).
			AddExecutor(stringExecutor("a")).
			AddExecutor(stringExecutor("a")).
			StartAt("a").
			Build()
		if err == nil {
			t.Fatal("expected Build to fail")
		}
		msg := err.Error()
		for _, want := range []string{
			"executor cannot be nil",
			"executor id cannot be empty",
			"duplicate executor id: a",
		} {
			if !strings.Contains(msg, want) {
				t.Errorf("aggregate error missing %q:\n%s", want, msg)
			}
		}
	})

	t.Run("rejects unknown start executor", func(t *testing.T) {
		_, err := NewBuilder().
			AddExecutor(stringExecutor("a")).
			StartAt("nope").
			Build()
		if err == nil || !strings.Contains(err.Error(), "start executor does not exist") {
			t.Errorf("expected unknown-start error, got %v", err)
		}
	})

	t.Run("rejects executors unreachable from start", func(t *testing.T) {
		_, err := NewBuilder().
			AddExecutor(stringExecutor("a")).
			AddExecutor(stringExecutor("b")).
			AddExecutor(stringExecutor("island")).
			StartAt("a").
			Connect("a", "b", nil).
			Build()
		if err == nil || !strings.Contains(err.Error(), "executor island is unreachable") {
			t.Errorf("expected unreachable-executor error, got %v", err)
		}
	})

	t.Run("reachability follows fan-out and switch targets", func(t *testing.T) {
		_, err := NewBuilder().
			AddExecutor(stringExecutor("a")).
			AddExecutor(stringExecutor("b")).
			AddExecutor(stringExecutor("c")).
			AddExecutor(stringExecutor("d")).
			StartAt("a").
			FanOut("a", []string{"b", "c"}, nil).
			Switch("c", []SwitchCase{{Target: "d", When: nil}}).
			Build()
		if err != nil {
			t.Errorf("all executors are reachable, Build failed: %v", err)
		}
	})

	t.Run("surfaces duplicate handler registrations with executor id", func(t *testing.T) {
		dup := NewFuncExecutor("dup", func(rb *RouteBuilder) *RouteBuilder {
			rb = AddHandler(rb, func(ctx context.Context, wc WorkflowContext, s string) error { return nil })
			return AddHandler(rb, func(ctx context.Context, wc WorkflowContext, s string) error { return nil })
		})
		_, err := NewBuilder().AddExecutor(dup).StartAt("dup").Build()
		if err == nil {
			t.Fatal("expected Build to fail")
		}
		if !strings.Contains(err.Error(), "executor dup:") ||
			!strings.Contains(err.Error(), "duplicate handler registration for type string") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestBuilder_FanInValidation(t *testing.T) {
	t.Run("requires at least two sources", func(t *testing.T) {
		_, err := NewBuilder().
			AddExecutor(stringExecutor("a")).
			AddExecutor(stringExecutor("join")).
			StartAt("a").
			FanIn([]string{"a"}, "join").
			Build()
		if err == nil || !strings.Contains(err.Error(), "needs at least two sources") {
			t.Errorf("expected fan-in arity error, got %v", err)
		}
	})

	t.Run("rejects duplicate sources", func(t *testing.T) {
		_, err := NewBuilder().
			AddExecutor(stringExecutor("a")).
			AddExecutor(stringExecutor("b")).
			AddExecutor(stringExecutor("join")).
			StartAt("a").
			Connect("a", "b", nil).
			FanIn([]string{"a", "a"}, "join").
			Build()
		if err == nil || !strings.Contains(err.Error(), `lists source "a" twice`) {
			t.Errorf("expected duplicate-source error, got %v", err)
		}
	})
}

func TestBuilder_ChatProtocol(t *testing.T) {
	chatReady := NewFuncExecutor("chat", func(rb *RouteBuilder) *RouteBuilder {
		rb = AddHandler(rb, func(ctx context.Context, wc WorkflowContext, msgs []ChatMessage) error {
			return nil
		})
		return AddHandler(rb, func(ctx context.Context, wc WorkflowContext, token TurnToken) error {
			return nil
		})
	})

	t.Run("accepts a start executor handling both chat types", func(t *testing.T) {
		_, err := NewBuilder().
			AddExecutor(chatReady).
			StartAt("chat").
			WithChatProtocol().
			Build()
		if err != nil {
			t.Errorf("Build failed: %v", err)
		}
	})

	t.Run("rejects a start executor missing the turn handler", func(t *testing.T) {
		partial := NewFuncExecutor("partial", func(rb *RouteBuilder) *RouteBuilder {
			return AddHandler(rb, func(ctx context.Context, wc WorkflowContext, msgs []ChatMessage) error {
				return nil
			})
		})
		_, err := NewBuilder().
			AddExecutor(partial).
			StartAt("partial").
			WithChatProtocol().
			Build()
		if err == nil || !strings.Contains(err.Error(), "chat protocol requires start executor") {
			t.Errorf("expected chat protocol violation, got %v", err)
		}
	})
}
