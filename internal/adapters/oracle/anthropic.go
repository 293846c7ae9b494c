// Package oracle provides language-model adapters for the oracle ports.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/jobrunner/vicinus/internal/domain"
	"github.com/jobrunner/vicinus/internal/ports/output"
	"github.com/jobrunner/vicinus/internal/resilience"
)

// Config configures the Anthropic adapter.
type Config struct {
	APIKey    string
	BaseURL   string // Empty for the public API
	Model     string
	MaxTokens int64
}

// Anthropic implements FunctionOracle and PhrasingOracle with the Messages API.
type Anthropic struct {
	client    sdk.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropic creates an Anthropic-backed oracle. SDK-level retries are
// disabled; retry policy belongs to the caller.
func NewAnthropic(cfg Config, logger *slog.Logger) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Call implements FunctionOracle. The first tool_use block wins; a reply
// without one is a decline.
func (a *Anthropic) Call(ctx context.Context, prompt output.Prompt, tools []output.ToolSpec) (output.OracleReply, error) {
	params := a.params(prompt)
	params.Tools = toSDKTools(tools)

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return output.OracleReply{}, classify(err, "call tool")
	}

	var (
		reply output.OracleReply
		text  []string
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			if reply.Call != nil {
				continue
			}
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return output.OracleReply{}, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable,
						eris.Wrap(err, "anthropic: decode tool input"))
				}
			}
			reply.Call = &output.ToolCall{Name: block.Name, Arguments: args}
		case "text":
			text = append(text, block.Text)
		}
	}
	reply.Text = strings.TrimSpace(strings.Join(text, "\n"))

	a.logger.Debug("oracle replied",
		"model", a.model,
		"stop_reason", string(msg.StopReason),
		"tool_call", reply.Call != nil,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
	)
	return reply, nil
}

// Generate implements PhrasingOracle.
func (a *Anthropic) Generate(ctx context.Context, prompt output.Prompt) (string, error) {
	msg, err := a.client.Messages.New(ctx, a.params(prompt))
	if err != nil {
		return "", classify(err, "generate")
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

func (a *Anthropic) params(prompt output.Prompt) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt.User))},
	}
	if prompt.System != "" {
		params.System = []sdk.TextBlockParam{{Text: prompt.System}}
	}
	return params
}

func toSDKTools(tools []output.ToolSpec) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: t.Parameters,
					Required:   t.Required,
				},
			},
		})
	}
	return out
}

// classify maps SDK failures onto the oracle error sentinels. Rate limits,
// overload and 5xx responses are marked transient.
func classify(err error, op string) error {
	wrapped := eris.Wrap(err, "anthropic: "+op)

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrOracleTimeout, wrapped)
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return fmt.Errorf("%w: %w", domain.ErrOracleUnavailable,
			resilience.NewTransientError(wrapped, apiErr.StatusCode))
	}
	if resilience.IsTransient(err) {
		return fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, resilience.NewTransientError(wrapped, 0))
	}
	return fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, wrapped)
}
