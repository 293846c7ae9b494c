package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
)

// Tool argument names.
const (
	argTargetLayer    = "target_layer"
	argReferenceLayer = "reference_layer"
	argDistance       = "distance"
	argUnit           = "unit"
)

const systemPrompt = `You are a GIS analyst answering questions about the layers listed below.

Available layers:
%s

When the question asks which features of one layer lie within some distance of the features of
another layer, call the buffer_containment tool. The target layer holds the features being
counted; the reference layer holds the features the distance is measured from. Use layer
names exactly as listed. If the question gives no distance, use 0.5 miles.

If the question is not such a request, do not call a tool; answer in one short sentence.`

// Interpreter turns a question into an operation request.
type Interpreter interface {
	Interpret(ctx context.Context, text string, catalog *domain.Catalog) (domain.OperationRequest, error)
}

// QueryInterpreter asks a function-calling oracle to translate questions and
// validates its untrusted reply.
type QueryInterpreter struct {
	oracle  output.FunctionOracle
	metrics output.MetricsCollector
	logger  *slog.Logger
	timeout time.Duration
}

// NewQueryInterpreter creates a new interpreter. A zero timeout leaves the
// oracle call bounded only by ctx.
func NewQueryInterpreter(
	oracle output.FunctionOracle,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
) *QueryInterpreter {
	return &QueryInterpreter{
		oracle:  oracle,
		metrics: metrics,
		logger:  logger,
		timeout: timeout,
	}
}

// Interpret implements Interpreter. Errors wrap ErrNoMatchingOperation,
// ErrInvalidUnit, ErrInvalidDistance, ErrOracleTimeout or ErrOracleUnavailable.
func (qi *QueryInterpreter) Interpret(ctx context.Context, text string, catalog *domain.Catalog) (domain.OperationRequest, error) {
	if qi.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qi.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := qi.oracle.Call(ctx, BuildPrompt(text, catalog), []output.ToolSpec{BufferContainmentTool()})
	qi.metrics.ObserveOracleDuration("interpret", time.Since(start))
	qi.metrics.IncOracleCalls("interpret", err == nil)
	if err != nil {
		return domain.OperationRequest{}, oracleError(ctx, err)
	}

	req, err := NormalizeReply(reply)
	if err != nil {
		qi.logger.Debug("oracle reply rejected", "error", err, "declined", reply.Declined())
		return domain.OperationRequest{}, err
	}
	return req, nil
}

// oracleError makes sure a failed oracle call carries one of the oracle
// sentinels. An expired deadline always reads as a timeout.
func oracleError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrOracleTimeout):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrOracleTimeout, err)
	case errors.Is(err, domain.ErrOracleUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
}

// BuildPrompt renders the oracle prompt: one line per catalog layer in the
// system part, the question as the user part.
func BuildPrompt(text string, catalog *domain.Catalog) output.Prompt {
	layers := catalog.List()
	lines := make([]string, 0, len(layers))
	for _, l := range layers {
		lines = append(lines, "- "+l.Summary())
	}
	if len(lines) == 0 {
		lines = append(lines, "(none)")
	}

	return output.Prompt{
		System: fmt.Sprintf(systemPrompt, strings.Join(lines, "\n")),
		User:   strings.TrimSpace(text),
	}
}

// BufferContainmentTool is the only tool offered to the oracle.
func BufferContainmentTool() output.ToolSpec {
	units := domain.Units()
	enum := make([]string, len(units))
	for i, u := range units {
		enum[i] = string(u)
	}

	return output.ToolSpec{
		Name:        string(domain.OpBufferContainment),
		Description: "Find the features of a target layer that lie within a distance of any feature of a reference layer.",
		Parameters: map[string]any{
			argTargetLayer: map[string]any{
				"type":        "string",
				"description": "Layer whose features are returned, e.g. schools",
			},
			argReferenceLayer: map[string]any{
				"type":        "string",
				"description": "Layer the distance is measured from, e.g. pipelines",
			},
			argDistance: map[string]any{
				"type":        "number",
				"description": "Buffer distance, greater than zero",
			},
			argUnit: map[string]any{
				"type":        "string",
				"enum":        enum,
				"description": "Unit of the distance",
			},
		},
		Required: []string{argTargetLayer, argReferenceLayer, argDistance, argUnit},
	}
}

// NormalizeReply validates an oracle reply and turns it into a request.
// Layer names are trimmed but not resolved. The unit is checked before the
// distance.
func NormalizeReply(reply output.OracleReply) (domain.OperationRequest, error) {
	if reply.Declined() {
		return domain.OperationRequest{}, &domain.InterpretationError{
			Reason: "the question does not ask for a proximity query",
			Err:    domain.ErrNoMatchingOperation,
		}
	}

	call := reply.Call
	if call.Name != string(domain.OpBufferContainment) {
		return domain.OperationRequest{}, &domain.InterpretationError{
			Field:  "operation",
			Value:  call.Name,
			Reason: "unsupported operation",
			Err:    domain.ErrNoMatchingOperation,
		}
	}

	req := domain.OperationRequest{Operation: domain.OpBufferContainment}

	for _, arg := range []struct {
		name string
		dst  *string
	}{
		{argTargetLayer, &req.TargetLayer},
		{argReferenceLayer, &req.ReferenceLayer},
	} {
		s, _ := call.Arguments[arg.name].(string)
		*arg.dst = strings.TrimSpace(s)
		if *arg.dst == "" {
			return domain.OperationRequest{}, &domain.InterpretationError{
				Field:  arg.name,
				Value:  call.Arguments[arg.name],
				Reason: "layer name missing",
				Err:    domain.ErrNoMatchingOperation,
			}
		}
	}

	rawUnit, _ := call.Arguments[argUnit].(string)
	unit, err := domain.ParseUnit(rawUnit)
	if err != nil {
		return domain.OperationRequest{}, &domain.InterpretationError{
			Field:  argUnit,
			Value:  call.Arguments[argUnit],
			Reason: "unsupported unit",
			Err:    domain.ErrInvalidUnit,
		}
	}
	req.Unit = unit

	d, ok := parseNumber(call.Arguments[argDistance])
	if !ok || !domain.ValidDistance(d) {
		return domain.OperationRequest{}, &domain.InterpretationError{
			Field:  argDistance,
			Value:  call.Arguments[argDistance],
			Reason: "distance must be a finite number greater than zero",
			Err:    domain.ErrInvalidDistance,
		}
	}
	req.Distance = d

	if err := req.Validate(); err != nil {
		return domain.OperationRequest{}, err
	}
	return req, nil
}

// parseNumber accepts JSON numbers and numeric strings.
func parseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
