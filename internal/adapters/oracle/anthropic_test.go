package oracle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
	"github.com/jobrunner/vicinus/internal/resilience"
)

func newTestOracle(baseURL string) *Anthropic {
	return NewAnthropic(Config{
		APIKey:    "test-key",
		BaseURL:   baseURL,
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 512,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func messageServer(t *testing.T, content []map[string]any, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, seen)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"content":     content,
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 40, "output_tokens": 12},
		})
	}))
}

var bufferTool = output.ToolSpec{
	Name:        "buffer_containment",
	Description: "Find target features within a distance of reference features",
	Parameters: map[string]any{
		"target_layer": map[string]any{"type": "string"},
		"distance":     map[string]any{"type": "number"},
	},
	Required: []string{"target_layer", "distance"},
}

func TestAnthropicCall_ToolUse(t *testing.T) {
	var seen map[string]any
	ts := messageServer(t, []map[string]any{
		{"type": "text", "text": "Looking that up."},
		{
			"type":  "tool_use",
			"id":    "toolu_1",
			"name":  "buffer_containment",
			"input": map[string]any{"target_layer": "schools", "distance": 1, "unit": "miles"},
		},
	}, &seen)
	defer ts.Close()

	reply, err := newTestOracle(ts.URL).Call(context.Background(),
		output.Prompt{System: "You are a GIS analyst.", User: "schools within 1 mile of pipelines"},
		[]output.ToolSpec{bufferTool})
	require.NoError(t, err)

	require.False(t, reply.Declined())
	assert.Equal(t, "buffer_containment", reply.Call.Name)
	assert.Equal(t, "schools", reply.Call.Arguments["target_layer"])
	assert.InDelta(t, 1.0, reply.Call.Arguments["distance"], 1e-9)
	assert.Equal(t, "Looking that up.", reply.Text)

	tools, ok := seen["tools"].([]any)
	require.True(t, ok, "request should carry tools")
	require.Len(t, tools, 1)
	assert.Equal(t, "buffer_containment", tools[0].(map[string]any)["name"])
	assert.NotNil(t, seen["system"])
}

func TestAnthropicCall_Declined(t *testing.T) {
	ts := messageServer(t, []map[string]any{
		{"type": "text", "text": "Hello! Ask me about your layers."},
	}, nil)
	defer ts.Close()

	reply, err := newTestOracle(ts.URL).Call(context.Background(),
		output.Prompt{User: "hello"}, []output.ToolSpec{bufferTool})
	require.NoError(t, err)
	assert.True(t, reply.Declined())
	assert.Equal(t, "Hello! Ask me about your layers.", reply.Text)
}

func TestAnthropicGenerate(t *testing.T) {
	ts := messageServer(t, []map[string]any{
		{"type": "text", "text": "  I found 3 schools near the pipeline.  "},
	}, nil)
	defer ts.Close()

	text, err := newTestOracle(ts.URL).Generate(context.Background(), output.Prompt{User: "summarise"})
	require.NoError(t, err)
	assert.Equal(t, "I found 3 schools near the pipeline.", text)
}

func TestAnthropicCall_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"overloaded", 529, true},
		{"server error", http.StatusInternalServerError, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"type":  "error",
					"error": map[string]any{"type": "api_error", "message": "nope"},
				})
			}))
			defer ts.Close()

			_, err := newTestOracle(ts.URL).Call(context.Background(),
				output.Prompt{User: "q"}, []output.ToolSpec{bufferTool})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			assert.Contains(t, err.Error(), "anthropic: call tool")
		})
	}
}

func TestAnthropicCall_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	// The handler never reads the body, so it cannot see the client leave.
	// Release it and drop connections before Close waits for handlers.
	defer ts.Close()
	defer ts.CloseClientConnections()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestOracle(ts.URL).Call(ctx, output.Prompt{User: "q"}, []output.ToolSpec{bufferTool})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOracleTimeout)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Call(context.Background(), output.Prompt{}, nil)
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
	assert.False(t, resilience.IsTransient(err))

	_, err = Disabled{}.Generate(context.Background(), output.Prompt{})
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}
