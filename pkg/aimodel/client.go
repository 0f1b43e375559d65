// Package aimodel wraps the Anthropic SDK behind the narrow generate
// contract the pipeline consumes: one deterministic structured request
// in, machine-readable text out.
package aimodel

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoCredential is returned by Generate when no API key is
// configured. Stages treat this as an immediate upstream failure; no
// partial attempt is made.
var ErrNoCredential = eris.New("aimodel: missing api key")

// Request is a single generation request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature *float64
	WebSearch   bool
	MaxSearches int64
}

// Result carries the model's text output and token usage.
type Result struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// LogCost logs token usage with structured fields for cost attribution.
func (u TokenUsage) LogCost(model, stage string) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
	)
}

// Client defines the AI model operations used by the pipeline.
type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Options configures the SDK-backed client.
type Options struct {
	APIKey string
	Model  string
	// RequestsPerSecond throttles outbound calls; zero disables.
	RequestsPerSecond float64
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client  sdk.Client
	model   string
	limiter *rate.Limiter
	hasKey  bool
}

// NewClient creates an Anthropic-backed client. A missing API key still
// yields a usable client whose Generate fails with ErrNoCredential, so
// the server can start without a credential and fail per-stage.
func NewClient(opts Options) Client {
	c := &sdkClient{
		model:  opts.Model,
		hasKey: strings.TrimSpace(opts.APIKey) != "",
	}
	if c.hasKey {
		c.client = sdk.NewClient(option.WithAPIKey(opts.APIKey))
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

func (c *sdkClient) Generate(ctx context.Context, req Request) (*Result, error) {
	if !c.hasKey {
		return nil, ErrNoCredential
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "aimodel: rate limiter wait")
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.WebSearch {
		maxUses := req.MaxSearches
		if maxUses <= 0 {
			maxUses = 5
		}
		params.Tools = []sdk.ToolUnionParam{
			{
				OfWebSearchTool20250305: &sdk.WebSearchTool20250305Param{
					MaxUses: sdk.Int(maxUses),
				},
			},
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "aimodel: create message")
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}

	return &Result{
		Text: strings.Join(parts, "\n"),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}
