package tooling

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/vassal/pkg/models"
)

// A panicking executor must come back as an ordinary tool failure the
// loop can continue past, never as a process crash.
func TestExecuteRecoversPanickingExecutor(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(models.ToolDescriptor{
		Name: "explosive",
		Executor: func(ctx context.Context, args json.RawMessage) (json.RawMessage, string) {
			panic("boom")
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result := Execute(context.Background(), models.ToolCall{Name: "explosive", Args: []byte(`{}`)}, r)
	if result.OK {
		t.Fatalf("expected failure from panicking executor")
	}
	if !strings.Contains(result.Message, "panicked") || !strings.Contains(result.Message, "boom") {
		t.Fatalf("expected panic details in message, got %q", result.Message)
	}
	if result.Result != nil {
		t.Fatalf("expected no result payload alongside the failure")
	}
}

func TestExecuteExecutorErrorMessage(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(models.ToolDescriptor{
		Name: "failing",
		Executor: func(ctx context.Context, args json.RawMessage) (json.RawMessage, string) {
			return nil, "deliberate failure"
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result := Execute(context.Background(), models.ToolCall{Name: "failing", Args: []byte(`{}`)}, r)
	if result.OK || result.Message != "deliberate failure" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
