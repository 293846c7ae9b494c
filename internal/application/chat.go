package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
	"github.com/jobrunner/vicinus/internal/resilience"
)

// QueryState is a stage of the question pipeline.
type QueryState string

// Pipeline states. Failed is terminal and reachable from Interpreting,
// Validating and Executing.
const (
	StateReceived     QueryState = "received"
	StateInterpreting QueryState = "interpreting"
	StateValidating   QueryState = "validating"
	StateExecuting    QueryState = "executing"
	StateComposing    QueryState = "composing"
	StateDone         QueryState = "done"
	StateFailed       QueryState = "failed"
)

// SnapshotSource provides the current catalog snapshot.
type SnapshotSource interface {
	Snapshot() *CatalogSnapshot
}

type requestIDKey struct{}

// WithRequestID attaches a request ID to ctx for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID from ctx, or "" if there is none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ChatServiceConfig holds configuration for the chat service.
type ChatServiceConfig struct {
	Retries         int           // Extra interpretation attempts for transient oracle failures
	RetryBackoff    time.Duration // Delay before a retry
	AnalysisTimeout time.Duration // Bound on execution; 0 means none
}

// ChatService answers questions by running interpretation, validation,
// execution and composition in order.
type ChatService struct {
	catalog     SnapshotSource
	interpreter Interpreter
	executor    Executor
	composer    *ResponseComposer
	metrics     output.MetricsCollector
	logger      *slog.Logger
	retry       resilience.RetryConfig
	timeout     time.Duration
}

// NewChatService creates a new chat service.
func NewChatService(
	catalog SnapshotSource,
	interpreter Interpreter,
	executor Executor,
	composer *ResponseComposer,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg ChatServiceConfig,
) *ChatService {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 1 + max(cfg.Retries, 0)
	if cfg.RetryBackoff > 0 {
		retry.InitialBackoff = cfg.RetryBackoff
	}
	retry.ShouldRetry = func(err error) bool {
		return errors.Is(err, domain.ErrOracleUnavailable) && resilience.IsTransient(err)
	}

	return &ChatService{
		catalog:     catalog,
		interpreter: interpreter,
		executor:    executor,
		composer:    composer,
		metrics:     metrics,
		logger:      logger,
		retry:       retry,
		timeout:     cfg.AnalysisTimeout,
	}
}

// query tracks one question through the pipeline.
type query struct {
	text   string
	state  QueryState
	stage  time.Time
	logger *slog.Logger
}

func (s *ChatService) advance(q *query, next QueryState) {
	now := time.Now()
	if q.state != StateReceived {
		s.metrics.ObserveStageDuration(string(q.state), now.Sub(q.stage))
	}
	q.logger.Debug("query state", "from", q.state, "to", next)
	q.state = next
	q.stage = now
}

// HandleQuery implements ChatService. It always returns a response; panics
// and unexpected errors become a generic internal error.
func (s *ChatService) HandleQuery(ctx context.Context, text string) (resp *domain.Response) {
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	q := &query{
		text:   text,
		state:  StateReceived,
		stage:  time.Now(),
		logger: s.logger.With("request_id", id),
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("panic while answering question",
				"panic", r, "state", q.state, "stack", string(debug.Stack()))
			resp = s.fail(q, fmt.Errorf("panic in %s: %v: %w", q.state, r, domain.ErrInternal))
		}
		outcome := "ok"
		if kind, ok := resp.Metadata["error_kind"].(string); ok {
			outcome = kind
		}
		s.metrics.IncQueryCount(outcome)
		q.logger.Info("question answered",
			"outcome", outcome,
			"duration", time.Since(start),
		)
	}()

	snap := s.catalog.Snapshot()

	s.advance(q, StateInterpreting)
	req, err := resilience.DoVal(ctx, s.withRetryLog(q), func(ctx context.Context) (domain.OperationRequest, error) {
		return s.interpreter.Interpret(ctx, text, snap.Catalog)
	})
	if err != nil {
		return s.fail(q, err)
	}
	q.logger.Info("question interpreted", "request", req.String())

	s.advance(q, StateValidating)
	target, reference, err := validate(req, snap.Catalog)
	if err != nil {
		return s.fail(q, err)
	}
	req.TargetLayer, req.ReferenceLayer = target.Name, reference.Name

	s.advance(q, StateExecuting)
	execCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	result, err := s.executor.Execute(execCtx, req, target, reference, snap)
	if err != nil {
		return s.fail(q, err)
	}

	s.advance(q, StateComposing)
	resp = s.composer.Compose(ctx, text, &req, result, nil)

	s.advance(q, StateDone)
	return resp
}

// validate resolves the target layer, then the reference layer, and checks
// the request parameters.
func validate(req domain.OperationRequest, catalog *domain.Catalog) (domain.Layer, domain.Layer, error) {
	if err := req.Validate(); err != nil {
		return domain.Layer{}, domain.Layer{}, err
	}
	target, err := catalog.Resolve(req.TargetLayer)
	if err != nil {
		return domain.Layer{}, domain.Layer{}, &domain.UnknownLayerError{Role: domain.RoleTarget, Name: req.TargetLayer, Available: catalog.Names()}
	}
	reference, err := catalog.Resolve(req.ReferenceLayer)
	if err != nil {
		return domain.Layer{}, domain.Layer{}, &domain.UnknownLayerError{Role: domain.RoleReference, Name: req.ReferenceLayer, Available: catalog.Names()}
	}
	return target, reference, nil
}

func (s *ChatService) fail(q *query, err error) *domain.Response {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		q.logger.Error("question failed", "state", q.state, "error", err)
	} else {
		q.logger.Info("question rejected", "state", q.state, "kind", kind, "error", err)
	}
	if q.state != StateFailed {
		s.advance(q, StateFailed)
	}
	return s.composer.Failure(err)
}

func (s *ChatService) withRetryLog(q *query) resilience.RetryConfig {
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error) {
		q.logger.Warn("oracle unavailable, retrying", "attempt", attempt, "error", err)
	}
	return cfg
}
