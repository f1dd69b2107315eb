package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/haasonsaas/vassal/pkg/models"
)

// Execute dispatches a parsed tool call to its registered executor.
// Exactly one of result/error is populated in the returned
// ToolDispatchResult, matching the executor contract.
func Execute(ctx context.Context, call models.ToolCall, registry *Registry) models.ToolDispatchResult {
	desc, ok := registry.Find(call.Name)
	if !ok {
		return models.ToolDispatchResult{OK: false, Message: "unknown tool: " + call.Name}
	}
	if err := registry.ValidateArgs(desc, call.Args); err != nil {
		return models.ToolDispatchResult{OK: false, Message: err.Error()}
	}
	return runExecutor(ctx, desc, call.Args)
}

// runExecutor invokes the executor with panic recovery. A panicking tool
// must surface as an ordinary tool failure the reasoning loop continues
// past, not take down the whole process.
func runExecutor(ctx context.Context, desc models.ToolDescriptor, args json.RawMessage) (out models.ToolDispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			out = models.ToolDispatchResult{
				OK:      false,
				Message: fmt.Sprintf("tool %s panicked: %v\n%s", desc.Name, r, debug.Stack()),
			}
		}
	}()

	result, errMsg := desc.Executor(ctx, args)
	if errMsg != "" {
		return models.ToolDispatchResult{OK: false, Message: errMsg}
	}
	return models.ToolDispatchResult{OK: true, Result: result}
}
