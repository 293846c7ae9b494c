package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
)

const phrasingPrompt = `You write one or two plain sentences summarising the result of a GIS proximity query for
the person who asked it. Always state the number of matching features and the layer names.
Do not invent details that are not in the result.`

// ResponseComposer turns results and failures into user-facing responses.
type ResponseComposer struct {
	phraser output.PhrasingOracle // nil uses the template only
	timeout time.Duration
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewResponseComposer creates a new composer. phraser may be nil.
func NewResponseComposer(
	phraser output.PhrasingOracle,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
) *ResponseComposer {
	return &ResponseComposer{
		phraser: phraser,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

// Compose builds the response for one request: the failure response when
// err is set, otherwise the success response for req and result. A missing
// request or result without an error is an internal failure.
func (c *ResponseComposer) Compose(
	ctx context.Context,
	question string,
	req *domain.OperationRequest,
	result *domain.OperationResult,
	err error,
) *domain.Response {
	switch {
	case err != nil:
		return c.Failure(err)
	case req == nil || result == nil:
		return c.Failure(fmt.Errorf("compose without result: %w", domain.ErrInternal))
	default:
		return c.Success(ctx, question, *req, result)
	}
}

// Success builds the response for a completed operation.
func (c *ResponseComposer) Success(ctx context.Context, question string, req domain.OperationRequest, result *domain.OperationResult) *domain.Response {
	return &domain.Response{
		Message:           c.phrase(ctx, question, req, result),
		FeatureCollection: domain.NewResultPayload(result.MatchedFeatures, result.Buffer),
		Metadata: map[string]any{
			"count":           result.Count,
			"operation":       string(req.Operation),
			"target_layer":    req.TargetLayer,
			"reference_layer": req.ReferenceLayer,
			"distance":        req.Distance,
			"unit":            string(req.Unit),
		},
	}
}

// Failure builds the response for a failed request. The message is
// deterministic and never exposes internal error detail.
func (c *ResponseComposer) Failure(err error) *domain.Response {
	kind := domain.KindOf(err)
	return &domain.Response{
		Message:           FailureMessage(err),
		FeatureCollection: nil,
		Metadata:          map[string]any{"error_kind": string(kind)},
	}
}

// phrase asks the phrasing oracle for the message and falls back to the
// template when there is none or it fails.
func (c *ResponseComposer) phrase(ctx context.Context, question string, req domain.OperationRequest, result *domain.OperationResult) string {
	fallback := TemplateMessage(req, result.Count)
	if c.phraser == nil {
		return fallback
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.phraser.Generate(ctx, output.Prompt{
		System: phrasingPrompt,
		User: fmt.Sprintf("Question: %s\nResult: %d features of layer %q lie within %s of layer %q.",
			question, result.Count, req.TargetLayer, formatDistance(req.Distance, req.Unit), req.ReferenceLayer),
	})
	c.metrics.ObserveOracleDuration("phrase", time.Since(start))
	c.metrics.IncOracleCalls("phrase", err == nil)

	text = strings.TrimSpace(text)
	switch {
	case err != nil:
		c.logger.Warn("phrasing failed, using template", "error", err)
		return fallback
	case text == "" || !strings.Contains(text, strconv.Itoa(result.Count)):
		c.logger.Debug("phrasing dropped the count, using template", "text", text)
		return fallback
	default:
		return text
	}
}

// TemplateMessage is the deterministic success message.
func TemplateMessage(req domain.OperationRequest, count int) string {
	return fmt.Sprintf("Found %d %s within %s of %s.",
		count, req.TargetLayer, formatDistance(req.Distance, req.Unit), req.ReferenceLayer)
}

func formatDistance(d float64, u domain.Unit) string {
	unit := string(u)
	if d == 1 {
		unit = u.Singular()
	}
	return strconv.FormatFloat(d, 'f', -1, 64) + " " + unit
}

// FailureMessage renders the deterministic message for a failure, naming the
// offending layer or parameter where there is one.
func FailureMessage(err error) string {
	var (
		unknown *domain.UnknownLayerError
		interp  *domain.InterpretationError
	)

	switch domain.KindOf(err) {
	case domain.KindUnknownLayer:
		if errors.As(err, &unknown) {
			if len(unknown.Available) == 0 {
				return fmt.Sprintf("I couldn't find a %s layer named %q, and no layers are loaded.",
					unknown.Role, unknown.Name)
			}
			return fmt.Sprintf("I couldn't find a %s layer named %q. Ask about one of the available layers, which are: %s.",
				unknown.Role, unknown.Name, strings.Join(unknown.Available, ", "))
		}
		return "I couldn't find one of the layers you asked about."
	case domain.KindInvalidUnit:
		if errors.As(err, &interp) {
			return fmt.Sprintf("I can't measure distance in %q. Use meters, kilometers, miles or feet.",
				fmt.Sprint(interp.Value))
		}
		return "I can't measure distance in that unit. Use meters, kilometers, miles or feet."
	case domain.KindInvalidDistance:
		if errors.As(err, &interp) && interp.Value != nil {
			return fmt.Sprintf("The distance %v is not valid. It must be a number greater than zero.", interp.Value)
		}
		return "The distance is not valid. It must be a number greater than zero."
	case domain.KindNoMatchingOperation:
		if errors.As(err, &interp) {
			switch interp.Field {
			case "operation":
				return fmt.Sprintf("The operation %q is not supported. I can find features within a distance of other features.",
					fmt.Sprint(interp.Value))
			case argTargetLayer:
				return "I couldn't tell which layer you want features from."
			case argReferenceLayer:
				return "I couldn't tell which layer the distance should be measured from."
			}
		}
		return "I can only answer questions like \"which schools are within 1 mile of the pipelines?\"."
	case domain.KindOracleTimeout:
		return "The language service took too long to respond. Please try again."
	case domain.KindOracleUnavailable:
		return "The language service is unavailable right now. Please try again later."
	default:
		return "Something went wrong while answering your question."
	}
}
