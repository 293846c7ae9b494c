package application

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
)

func testCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	c, err := domain.NewCatalog([]domain.Layer{
		{Name: "schools", Kind: domain.KindPoint, FeatureCount: 5, Description: "Public schools"},
		{Name: "pipelines", Kind: domain.KindLine, FeatureCount: 1, Description: "Gas pipelines"},
	})
	require.NoError(t, err)
	return c
}

func TestNormalizeReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   output.OracleReply
		want    domain.OperationRequest
		wantErr error
		field   string
	}{
		{
			name:  "valid",
			reply: toolCall("schools", "pipelines", 1.0, "miles"),
			want: domain.OperationRequest{
				Operation: domain.OpBufferContainment, TargetLayer: "schools",
				ReferenceLayer: "pipelines", Distance: 1, Unit: domain.UnitMiles,
			},
		},
		{
			name:  "unit synonym and numeric string",
			reply: toolCall(" Schools ", "pipelines", " 2.5 ", "KM"),
			want: domain.OperationRequest{
				Operation: domain.OpBufferContainment, TargetLayer: "Schools",
				ReferenceLayer: "pipelines", Distance: 2.5, Unit: domain.UnitKilometers,
			},
		},
		{
			name:  "layer names pass through unresolved",
			reply: toolCall("hospitals", "pipelines", 1, "ft"),
			want: domain.OperationRequest{
				Operation: domain.OpBufferContainment, TargetLayer: "hospitals",
				ReferenceLayer: "pipelines", Distance: 1, Unit: domain.UnitFeet,
			},
		},
		{
			name:    "declined",
			reply:   output.OracleReply{Text: "Hi there"},
			wantErr: domain.ErrNoMatchingOperation,
		},
		{
			name:    "other tool",
			reply:   output.OracleReply{Call: &output.ToolCall{Name: "intersection", Arguments: map[string]any{}}},
			wantErr: domain.ErrNoMatchingOperation,
			field:   "operation",
		},
		{
			name:    "missing reference",
			reply:   toolCall("schools", "  ", 1, "miles"),
			wantErr: domain.ErrNoMatchingOperation,
			field:   argReferenceLayer,
		},
		{
			name:    "bad unit",
			reply:   toolCall("schools", "pipelines", 1, "furlongs"),
			wantErr: domain.ErrInvalidUnit,
			field:   argUnit,
		},
		{
			name:    "missing unit",
			reply:   toolCall("schools", "pipelines", 1, ""),
			wantErr: domain.ErrInvalidUnit,
			field:   argUnit,
		},
		{
			name:    "zero distance",
			reply:   toolCall("schools", "pipelines", 0.0, "miles"),
			wantErr: domain.ErrInvalidDistance,
			field:   argDistance,
		},
		{
			name:    "negative distance",
			reply:   toolCall("schools", "pipelines", -3.0, "miles"),
			wantErr: domain.ErrInvalidDistance,
			field:   argDistance,
		},
		{
			name:    "infinite distance",
			reply:   toolCall("schools", "pipelines", math.Inf(1), "miles"),
			wantErr: domain.ErrInvalidDistance,
			field:   argDistance,
		},
		{
			name:    "non-numeric distance",
			reply:   toolCall("schools", "pipelines", "far", "miles"),
			wantErr: domain.ErrInvalidDistance,
			field:   argDistance,
		},
		{
			name:    "NaN string",
			reply:   toolCall("schools", "pipelines", "NaN", "miles"),
			wantErr: domain.ErrInvalidDistance,
			field:   argDistance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeReply(tt.reply)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var ie *domain.InterpretationError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, tt.field, ie.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("  schools near pipelines  ", testCatalog(t))

	assert.Equal(t, "schools near pipelines", prompt.User)
	assert.Contains(t, prompt.System, "- pipelines (line layer, 1 features): Gas pipelines")
	assert.Contains(t, prompt.System, "- schools (point layer, 5 features): Public schools")
	assert.Contains(t, prompt.System, "0.5 miles")

	empty := BuildPrompt("x", nil)
	assert.Contains(t, empty.System, "(none)")
}

func TestBufferContainmentTool(t *testing.T) {
	tool := BufferContainmentTool()
	assert.Equal(t, "buffer_containment", tool.Name)
	assert.ElementsMatch(t, []string{"target_layer", "reference_layer", "distance", "unit"}, tool.Required)

	unit := tool.Parameters["unit"].(map[string]any)
	assert.Equal(t, []string{"meters", "kilometers", "miles", "feet"}, unit["enum"])
}

func TestInterpret(t *testing.T) {
	oracle := &scriptedOracle{replies: []output.OracleReply{toolCall("schools", "pipelines", 1, "mi")}}
	qi := NewQueryInterpreter(oracle, &output.NoOpMetrics{}, testLogger(), time.Second)

	req, err := qi.Interpret(context.Background(), "schools within a mile of pipelines", testCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, domain.UnitMiles, req.Unit)
	assert.Equal(t, 1, oracle.Calls())
	assert.True(t, strings.Contains(oracle.prompts[0].System, "schools"))
}

func TestInterpretTimeout(t *testing.T) {
	oracle := &scriptedOracle{} // blocks until the deadline
	qi := NewQueryInterpreter(oracle, &output.NoOpMetrics{}, testLogger(), 20*time.Millisecond)

	_, err := qi.Interpret(context.Background(), "q", testCatalog(t))
	assert.ErrorIs(t, err, domain.ErrOracleTimeout)
	assert.Equal(t, domain.KindOracleTimeout, domain.KindOf(err))
}

func TestInterpretUnavailable(t *testing.T) {
	oracle := &scriptedOracle{errs: []error{errors.New("connection refused")}}
	qi := NewQueryInterpreter(oracle, &output.NoOpMetrics{}, testLogger(), time.Second)

	_, err := qi.Interpret(context.Background(), "q", testCatalog(t))
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}
