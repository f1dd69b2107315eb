package tooling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// usagePreamble explains the tool_call tag grammar the way
// the model is expected to emit it.
const usagePreamble = `You may call tools by emitting a self-closing tag of the form:
  <tool_call name="TOOL_NAME" attr1="value1" attr2="value2" />
Emit one tag per call; generation stops at the end of each tag, the tool runs,
and its result is placed in context before you continue your answer.

Available tools:
`

// BuildSystemPrompt writes the tool catalog — each tool's name, description,
// and parameter schema — preceded by the usage preamble, into out.
func (r *Registry) BuildSystemPrompt(out *strings.Builder) {
	out.WriteString(usagePreamble)
	for _, desc := range r.All() {
		fmt.Fprintf(out, "\n- %s: %s\n", desc.Name, desc.Description)
		if len(desc.Schema) > 0 {
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, desc.Schema, "  ", "  "); err == nil {
				fmt.Fprintf(out, "  parameters: %s\n", pretty.String())
			}
		}
	}
}
