package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Canonical tool names. One flat catalog; the agent loop never needs to know
// about individual tools.
const (
	ToolNameReadFile    = "read_file"
	ToolNameWriteFile   = "write_file"
	ToolNameEditFile    = "edit_file"
	ToolNameDeleteFile  = "delete_file"
	ToolNameListDir     = "list_dir"
	ToolNameSearchText  = "search_text"
	ToolNameRunCommand  = "run_command"
	ToolNameDiagnostics = "get_diagnostics"
	ToolNameOutline     = "view_outline"
)

// Error kinds used to classify tool failures. Everything here is reported
// back to the model as a tool error; nothing is fatal to the process.
const (
	ErrKindValidation = "validation"
	ErrKindNotFound   = "not_found"
	ErrKindIO         = "io"
	ErrKindTimeout    = "timeout"
	ErrKindParse      = "parse"
	ErrKindCancelled  = "cancelled"
)

// ToolSpec is the static specification of a tool: name, description and a
// JSON-schema-style parameter spec. Specs are transmitted verbatim to the
// model as the available function catalog.
type ToolSpec interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
}

// ToolExecutor handles the actual execution of a tool
type ToolExecutor interface {
	Execute(ctx context.Context, params map[string]interface{}) *ToolResult
}

// Tool combines ToolSpec and ToolExecutor
type Tool interface {
	ToolSpec
	ToolExecutor
}

// ApprovalRequired marks tools that must pass the human approval gate before
// execution. Only run_command implements it.
type ApprovalRequired interface {
	RequiresApproval() bool
}

// ToolResult represents the result of a tool execution. It is always
// serializable to text for embedding into a tool message.
type ToolResult struct {
	ID        string                 `json:"id,omitempty"`
	Success   bool                   `json:"success"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind string                 `json:"error_kind,omitempty"`
}

// Ok builds a successful result
func Ok(message string, payload map[string]interface{}) *ToolResult {
	return &ToolResult{Success: true, Message: message, Payload: payload}
}

// Errorf builds a failed result with a classified error kind
func Errorf(kind, format string, args ...interface{}) *ToolResult {
	return &ToolResult{Error: fmt.Sprintf(format, args...), ErrorKind: kind}
}

// Text renders the result for the model. Failures render as a plain error
// string so the model can retry with corrected input.
func (r *ToolResult) Text() string {
	if r == nil {
		return "error: tool returned no result"
	}
	if r.Error != "" {
		return "error: " + r.Error
	}

	out := map[string]interface{}{"success": true}
	if r.Message != "" {
		out["message"] = r.Message
	}
	for k, v := range r.Payload {
		out[k] = v
	}

	data, err := json.Marshal(out)
	if err != nil {
		return r.Message
	}
	return string(data)
}

// Registry manages the fixed catalog of callable tools. Registration order is
// preserved so the catalog sent to the model is stable.
type Registry struct {
	entries map[string]Tool
	order   []string
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Tool)}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	name := tool.Name()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.entries[name]
	return tool, ok
}

// Specs returns all registered tool specs in registration order
func (r *Registry) Specs() []ToolSpec {
	result := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entries[name])
	}
	return result
}

// ToJSONSchema converts the catalog to the function-calling schema the model
// endpoint expects
func (r *Registry) ToJSONSchema() []map[string]interface{} {
	schemas := make([]map[string]interface{}, 0, len(r.order))
	for _, name := range r.order {
		tool := r.entries[name]
		schemas = append(schemas, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return schemas
}

// Execute validates the untrusted model-supplied arguments against the tool's
// declared schema and dispatches. A missing tool or missing required argument
// yields a tool-level error result, never a crash.
func (r *Registry) Execute(ctx context.Context, id, name string, params map[string]interface{}) *ToolResult {
	tool, ok := r.entries[name]
	if !ok {
		result := Errorf(ErrKindValidation, "tool not found: %s", name)
		result.ID = id
		return result
	}

	if err := ValidateParams(tool, params); err != nil {
		result := Errorf(ErrKindValidation, "%v", err)
		result.ID = id
		return result
	}

	result := tool.Execute(ctx, params)
	if result == nil {
		result = Errorf(ErrKindIO, "tool %s returned nil result", name)
	}
	result.ID = id
	return result
}

// ValidateParams checks the schema's required fields before dispatch
func ValidateParams(spec ToolSpec, params map[string]interface{}) error {
	schema := spec.Parameters()
	required, ok := schema["required"]
	if !ok {
		return nil
	}

	var names []string
	switch list := required.(type) {
	case []string:
		names = list
	case []interface{}:
		for _, v := range list {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}

	var missing []string
	for _, name := range names {
		val, present := params[name]
		if !present {
			missing = append(missing, name)
			continue
		}
		if s, isString := val.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required arguments for %s: %s", spec.Name(), strings.Join(missing, ", "))
	}
	return nil
}

// ParseArguments decodes the raw JSON argument string of a tool call
func ParseArguments(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("tool arguments are not a JSON object: %w", err)
	}
	return params, nil
}

// GetStringParam returns a string parameter or the default
func GetStringParam(params map[string]interface{}, key string, defaultVal string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetIntParam returns an int parameter or the default
func GetIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

// GetBoolParam returns a bool parameter or the default
func GetBoolParam(params map[string]interface{}, key string, defaultVal bool) bool {
	if val, ok := params[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}
