package output

import "context"

// Prompt is the text sent to a language-model oracle.
type Prompt struct {
	System string
	User   string
}

// ToolSpec describes a callable function offered to the oracle.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema properties
	Required    []string
}

// ToolCall is a function invocation chosen by the oracle. Arguments are
// untrusted and must be validated by the caller.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// OracleReply is either a tool call or a decline. Call is nil when the
// oracle answered in prose instead of calling a tool.
type OracleReply struct {
	Call *ToolCall
	Text string
}

// Declined reports whether the oracle chose not to call a tool.
func (r OracleReply) Declined() bool {
	return r.Call == nil
}

// FunctionOracle defines the secondary port for function-calling inference.
// Implementations return errors wrapping domain.ErrOracleTimeout or
// domain.ErrOracleUnavailable.
type FunctionOracle interface {
	Call(ctx context.Context, prompt Prompt, tools []ToolSpec) (OracleReply, error)
}

// PhrasingOracle defines the secondary port for free-text generation.
type PhrasingOracle interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}
