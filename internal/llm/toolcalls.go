package llm

import (
	"fmt"
	"strings"
	"unicode"
)

// NormalizeToolCallIDs ensures every tool call has a stable identifier.
// Some providers occasionally omit call IDs, which breaks downstream requests
// that require tool_call_id on tool messages.
func NormalizeToolCallIDs(toolCalls []ToolCall) []ToolCall {
	for i := range toolCalls {
		tc := &toolCalls[i]
		if strings.TrimSpace(tc.ID) != "" {
			continue
		}

		if name := sanitizeToolName(tc.Function.Name); name != "" {
			tc.ID = fmt.Sprintf("call_%s_%d", name, i+1)
		} else {
			tc.ID = fmt.Sprintf("call_%d", i+1)
		}
	}
	return toolCalls
}

func sanitizeToolName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
