package pathconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/vassal/internal/tooling"
	"github.com/haasonsaas/vassal/pkg/models"
)

type setArgs struct {
	Label       string `json:"label" jsonschema:"required,description=Short human label for the path"`
	Path        string `json:"path" jsonschema:"required,description=Absolute filesystem path"`
	Description string `json:"description,omitempty" jsonschema:"description=What this path is for"`
}

type getArgs struct {
	Label string `json:"label" jsonschema:"required,description=Label previously bound with path_config_set"`
}

type pathEntryJSON struct {
	Label       string `json:"label"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Verified    bool   `json:"verified"`
}

// RegisterTools exposes Set/Get through the Tool Registry & Dispatch
// interface as path_config_set / path_config_get, the model-facing surface
// of the Path Configuration subsystem.
func RegisterTools(r *tooling.Registry, m *Manager) *models.Error {
	if err := r.Register(models.ToolDescriptor{
		Name:                 "path_config_set",
		Description:          "Remembers an absolute filesystem path under a short label for later reference.",
		Schema:               tooling.ReflectSchema(setArgs{}),
		IsDeterministic:      false,
		RequiresConfirmation: true,
		IsStateful:           true,
		Executor:             setExecutor(m),
	}); err != nil {
		return err
	}
	return r.Register(models.ToolDescriptor{
		Name:            "path_config_get",
		Description:     "Looks up a previously remembered path by label.",
		Schema:          tooling.ReflectSchema(getArgs{}),
		IsDeterministic: false,
		IsStateful:      true,
		Executor:        getExecutor(m),
	})
}

func setExecutor(m *Manager) models.ToolExecutor {
	return func(_ context.Context, args json.RawMessage) (json.RawMessage, string) {
		var parsed setArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Sprintf("invalid arguments: %v", err)
		}
		res := m.Set(parsed.Label, parsed.Path, parsed.Description)
		entry, ok := res.Value()
		if !ok {
			return nil, res.Err().Error()
		}
		data, err := json.Marshal(toJSON(entry))
		if err != nil {
			return nil, fmt.Sprintf("encode result: %v", err)
		}
		return data, ""
	}
}

func getExecutor(m *Manager) models.ToolExecutor {
	return func(_ context.Context, args json.RawMessage) (json.RawMessage, string) {
		var parsed getArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Sprintf("invalid arguments: %v", err)
		}
		entry, ok := m.Get(parsed.Label)
		if !ok {
			return nil, fmt.Sprintf("no path bound to label %q", parsed.Label)
		}
		data, err := json.Marshal(toJSON(entry))
		if err != nil {
			return nil, fmt.Sprintf("encode result: %v", err)
		}
		return data, ""
	}
}

func toJSON(e models.PathConfigEntry) pathEntryJSON {
	return pathEntryJSON{Label: e.Label, Path: e.AbsolutePath, Description: e.Description, Verified: e.Verified}
}
