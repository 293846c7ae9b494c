package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore implements output.FeatureStore for testing.
type mockStore struct {
	name       string
	layers     []domain.Layer
	features   map[string][]domain.Feature
	refreshErr error
	refreshes  int
	closed     bool
}

func (m *mockStore) Name() string { return m.name }

func (m *mockStore) Refresh(_ context.Context) error {
	m.refreshes++
	return m.refreshErr
}

func (m *mockStore) ListLayers(_ context.Context) ([]domain.Layer, error) {
	return m.layers, nil
}

func (m *mockStore) Features(_ context.Context, layer string) ([]domain.Feature, error) {
	f, ok := m.features[layer]
	if !ok {
		return nil, fmt.Errorf("%q: %w", layer, domain.ErrLayerNotFound)
	}
	return f, nil
}

func (m *mockStore) Close() error {
	m.closed = true
	return nil
}

// mockStorage implements output.ObjectStorage for testing. Download writes
// the key as file content so removals can be observed.
type mockStorage struct {
	objects     []output.StorageObject
	downloadErr error
	listErr     error
	downloads   []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloads = append(m.downloads, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(key), 0o600)
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}

// scriptedOracle implements output.FunctionOracle, replaying replies in order
// and repeating the last one.
type scriptedOracle struct {
	mu      sync.Mutex
	replies []output.OracleReply
	errs    []error
	calls   int
	prompts []output.Prompt
}

func (o *scriptedOracle) Call(ctx context.Context, prompt output.Prompt, _ []output.ToolSpec) (output.OracleReply, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := o.calls
	o.calls++
	o.prompts = append(o.prompts, prompt)

	if i < len(o.errs) && o.errs[i] != nil {
		return output.OracleReply{}, o.errs[i]
	}
	if len(o.replies) == 0 {
		<-ctx.Done()
		return output.OracleReply{}, ctx.Err()
	}
	if i >= len(o.replies) {
		i = len(o.replies) - 1
	}
	return o.replies[i], nil
}

func (o *scriptedOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// toolCall builds a buffer_containment reply.
func toolCall(target, reference string, distance any, unit string) output.OracleReply {
	return output.OracleReply{Call: &output.ToolCall{
		Name: string(domain.OpBufferContainment),
		Arguments: map[string]any{
			"target_layer":    target,
			"reference_layer": reference,
			"distance":        distance,
			"unit":            unit,
		},
	}}
}

// fakePhraser implements output.PhrasingOracle.
type fakePhraser struct {
	text string
	err  error
}

func (p *fakePhraser) Generate(_ context.Context, _ output.Prompt) (string, error) {
	return p.text, p.err
}

// mockExecutor records calls and delegates to a real executor when one is set.
type mockExecutor struct {
	mock.Mock
	delegate Executor
}

func (m *mockExecutor) Execute(
	ctx context.Context,
	req domain.OperationRequest,
	target, reference domain.Layer,
	snap *CatalogSnapshot,
) (*domain.OperationResult, error) {
	args := m.Called(req, target.Name, reference.Name)
	if m.delegate != nil {
		return m.delegate.Execute(ctx, req, target, reference, snap)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OperationResult), args.Error(1)
}

// countingMetrics implements output.MetricsCollector, counting outcomes.
type countingMetrics struct {
	output.NoOpMetrics
	mu       sync.Mutex
	outcomes map[string]int
	cache    map[bool]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}, cache: map[bool]int{}}
}

func (m *countingMetrics) IncQueryCount(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *countingMetrics) IncBufferCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[hit]++
}
