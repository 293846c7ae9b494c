package oracle

import (
	"context"
	"fmt"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
)

// Disabled is used when no oracle provider is configured. Every call fails
// with ErrOracleUnavailable, which is never retried.
type Disabled struct{}

// Call implements FunctionOracle.
func (Disabled) Call(_ context.Context, _ output.Prompt, _ []output.ToolSpec) (output.OracleReply, error) {
	return output.OracleReply{}, fmt.Errorf("no provider configured: %w", domain.ErrOracleUnavailable)
}

// Generate implements PhrasingOracle.
func (Disabled) Generate(_ context.Context, _ output.Prompt) (string, error) {
	return "", fmt.Errorf("no provider configured: %w", domain.ErrOracleUnavailable)
}
