package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mealvoice"
	"mealvoice/parser"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

// Client parses meal transcripts with a local Ollama model.
type Client struct {
	endpoint     string
	model        string
	systemPrompt string
	httpClient   mealvoice.HTTPClient
	options      options
	format       json.RawMessage
}

type ClientOpts struct {
	BaseEndpoint string
	ModelID      string
	SystemPrompt string // defaults to parser.SystemPrompt
	Temperature  float64
	TopP         float64
	HTTPClient   mealvoice.HTTPClient
}

func NewClient(opts ClientOpts) (*Client, error) {
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, fmt.Errorf("ollama: model id is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = parser.SystemPrompt
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	if opts.TopP == 0 {
		opts.TopP = 0.9
	}

	format, err := json.Marshal(parser.FoodSchema())
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal food schema: %w", err)
	}

	return &Client{
		model:        opts.ModelID,
		systemPrompt: opts.SystemPrompt,
		httpClient:   opts.HTTPClient,
		endpoint:     strings.TrimRight(opts.BaseEndpoint, "/") + "/api/chat",
		format:       format,
		options: options{
			Temperature:   opts.Temperature,
			TopP:          opts.TopP,
			RepeatPenalty: 1.05,
			NumCtx:        8192,
		},
	}, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model    string          `json:"model"`
	Messages []wireMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  options         `json:"options,omitempty"`
}

type wireResponse struct {
	Message         wireMessage `json:"message"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
	EvalCount       int64       `json:"eval_count"`
}

// Model returns the Ollama model name.
func (c *Client) Model() string { return c.model }

// Parse sends the transcript to Ollama and decodes the structured reply.
func (c *Client) Parse(ctx context.Context, transcript string) (parser.Outcome, error) {
	ctx, span := otel.Tracer(mealvoice.TracerNameOllama).Start(ctx, "Client.Parse")
	defer span.End()
	span.SetAttributes(attribute.String("model", c.model))

	slog.Info("PARSER: Invoking ollama", "model", c.model, "transcript_len", len(transcript))

	reqBytes, err := json.Marshal(wireRequest{
		Model: c.model,
		Messages: []wireMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: parser.UserMessage(transcript)},
		},
		Stream:  false,
		Format:  c.format,
		Options: c.options,
	})
	if err != nil {
		return parser.Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(reqBytes))
	if err != nil {
		return parser.Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return parser.Outcome{}, ctx.Err()
		}
		return parser.Outcome{}, fmt.Errorf("%w: ollama: %v", mealvoice.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return parser.Outcome{}, fmt.Errorf("%w: ollama: read body: %v", mealvoice.ErrNetwork, err)
	}
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return parser.Outcome{}, fmt.Errorf("ollama: %w", mealvoice.StatusError(resp.StatusCode, string(body)))
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return parser.Outcome{}, fmt.Errorf("ollama: decode response: %w", err)
	}

	items, err := parser.DecodeFoods([]byte(wr.Message.Content))
	if err != nil {
		slog.Warn("PARSER: Unusable ollama content", "err", err, "content", wr.Message.Content)
		return parser.Outcome{}, fmt.Errorf("ollama: %w", err)
	}

	usage := mealvoice.Usage{InputTokens: wr.PromptEvalCount, OutputTokens: wr.EvalCount}
	slog.Info("PARSER: Ollama response decoded",
		"model", c.model,
		"items", len(items),
		"latency_ms", latency.Milliseconds(),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	span.SetAttributes(attribute.Int("items", len(items)))

	return parser.NewOutcome(c.model, items, usage, latency), nil
}
