package tooling

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/vassal/pkg/models"
)

// forcedStringAttrs never get numericized even when their value parses as a
// JSON number, preventing ids and filenames from being silently turned into
// numbers.
var forcedStringAttrs = map[string]bool{
	"memory_id": true, "file_path": true, "filepath": true, "tags": true,
	"query": true, "text": true, "content": true, "directory": true,
	"pattern": true, "format": true, "label": true,
}

var numericAttrPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

var attrPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)="([^"]*)"`)

const (
	tagOpen  = "<tool_call"
	tagClose = "/>"
)

// parseTags returns the raw `<tool_call ... />` substrings of output,
// leftmost-first and non-greedy: each match is bounded by tagOpen and the
// first subsequent tagClose. Malformed fragments (an opening marker with
// no following close marker) are ignored rather than surfaced.
func parseTags(output string) []string {
	var tags []string
	rest := output
	for {
		start := strings.Index(rest, tagOpen)
		if start < 0 {
			break
		}
		after := rest[start:]
		end := strings.Index(after, tagClose)
		if end < 0 {
			// No closing marker anywhere in the remaining text: malformed,
			// discard the rest of the scan.
			break
		}
		tag := after[:end+len(tagClose)]
		tags = append(tags, tag)
		rest = after[end+len(tagClose):]
	}
	return tags
}

// ParseCalls extracts every well-formed tool-call tag and resolves each
// into a models.ToolCall with its name and marshaled JSON arguments. Tags
// missing a name attribute are silently dropped.
func ParseCalls(output string) []models.ToolCall {
	var calls []models.ToolCall
	for _, tag := range parseTags(output) {
		name, args, ok := marshalArgs(tag)
		if !ok {
			continue
		}
		calls = append(calls, models.ToolCall{Name: name, Args: args, Raw: tag})
	}
	return calls
}

// MarshalArgs returns the JSON object of a raw tool-call tag's non-"name"
// attributes. Exposed separately from ParseCalls so attribute marshaling
// can be tested directly against a single tag.
func MarshalArgs(tag string) ([]byte, error) {
	_, args, ok := marshalArgs(tag)
	if !ok {
		return nil, errMalformedTag
	}
	return args, nil
}

var errMalformedTag = malformedTagError{}

type malformedTagError struct{}

func (malformedTagError) Error() string { return "tooling: malformed tool_call tag" }

// marshalArgs parses every attr="value" pair out of tag, encodes each value
// as a JSON number when it parses as one and its name is not in the
// forced-string set, and reports the tool name found in the "name"
// attribute. Returns ok=false if no "name" attribute is present.
func marshalArgs(tag string) (name string, args []byte, ok bool) {
	matches := attrPattern.FindAllStringSubmatch(tag, -1)
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, m := range matches {
		attr, val := m[1], m[2]
		if attr == "name" {
			name = val
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		writeJSONString(&b, attr)
		b.WriteByte(':')
		if !forcedStringAttrs[attr] && numericAttrPattern.MatchString(val) {
			b.WriteString(val)
		} else {
			writeJSONString(&b, val)
		}
	}
	b.WriteByte('}')
	if name == "" {
		return "", nil, false
	}
	return name, []byte(b.String()), true
}

// writeJSONString appends the JSON-quoted, escaped form of s to b.
func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
