package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mealvoice"
	"mealvoice/parser"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// defaultModelID is an inference profile ID, not the foundation model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	// A meal rarely lists more than a dozen foods; 2k tokens leaves room for suggestions.
	defaultMaxTokens = 2048

	// Low temperature keeps the structured output deterministic.
	defaultTemperature = 0.1

	defaultTopP = 0.9
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type Options struct {
	ModelID      string
	MaxTokens    int32
	Temperature  float32
	TopP         float32
	SystemPrompt string
}

// Client parses meal transcripts with a Bedrock model through the Converse
// API, forcing the model to answer by calling the record_foods tool.
type Client struct {
	brc  bedrockRuntimeClient
	opts Options
	tool types.Tool
}

func NewClient(brc bedrockRuntimeClient, opts Options) (*Client, error) {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = parser.SystemPrompt
	}

	spec, err := buildToolSpec()
	if err != nil {
		return nil, err
	}

	return &Client{
		brc:  brc,
		opts: opts,
		tool: &types.ToolMemberToolSpec{Value: spec},
	}, nil
}

// Model returns the configured model or inference profile ID.
func (c *Client) Model() string { return c.opts.ModelID }

// Parse asks the model to record the foods in transcript.
func (c *Client) Parse(ctx context.Context, transcript string) (parser.Outcome, error) {
	ctx, span := otel.Tracer(mealvoice.TracerNameBedrock).Start(ctx, "Client.Parse")
	defer span.End()
	span.SetAttributes(attribute.String("model", c.opts.ModelID))

	slog.Info("PARSER: Invoking bedrock", "model", c.opts.ModelID, "transcript_len", len(transcript))

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.opts.ModelID),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: c.opts.SystemPrompt},
		},
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: parser.UserMessage(transcript)},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.opts.MaxTokens),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
		ToolConfig: &types.ToolConfiguration{
			Tools: []types.Tool{c.tool},
			ToolChoice: &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(parser.ToolName)},
			},
		},
	}

	start := time.Now()
	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return parser.Outcome{}, ctx.Err()
		}
		slog.Error("PARSER: Bedrock converse failed", "error", err, "model", c.opts.ModelID)
		return parser.Outcome{}, classify(err)
	}
	latency := time.Since(start)

	usage := mealvoice.Usage{}
	if out.Usage != nil {
		usage.InputTokens = int64(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int64(aws.ToInt32(out.Usage.OutputTokens))
	}
	if out.Metrics != nil && out.Metrics.LatencyMs != nil {
		latency = time.Duration(aws.ToInt64(out.Metrics.LatencyMs)) * time.Millisecond
	}

	slog.Info("PARSER: Bedrock converse succeeded",
		"stop_reason", out.StopReason,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)

	switch out.StopReason {
	case types.StopReasonMaxTokens:
		return parser.Outcome{}, fmt.Errorf("bedrock: model hit MaxTokens limit (%d)", c.opts.MaxTokens)
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return parser.Outcome{}, fmt.Errorf("bedrock: response blocked by safety filters")
	}

	payload, err := toolInput(out)
	if err != nil {
		return parser.Outcome{}, err
	}
	if payload == nil {
		// Model ignored the forced tool; fall back to any JSON text it returned.
		text := textFromOutput(out)
		if text == "" {
			return parser.Outcome{}, fmt.Errorf("bedrock: no tool use and no text in response")
		}
		payload = []byte(text)
	}

	items, err := parser.DecodeFoods(payload)
	if err != nil {
		return parser.Outcome{}, fmt.Errorf("bedrock: %w", err)
	}
	span.SetAttributes(attribute.Int("items", len(items)))

	return parser.NewOutcome(c.opts.ModelID, items, usage, latency), nil
}

// classify maps Bedrock API errors onto the shared error taxonomy.
func classify(err error) error {
	var (
		throttle    *types.ThrottlingException
		quota       *types.ServiceQuotaExceededException
		denied      *types.AccessDeniedException
		internal    *types.InternalServerException
		unavailable *types.ServiceUnavailableException
		timeout     *types.ModelTimeoutException
		notReady    *types.ModelNotReadyException
	)
	switch {
	case errors.As(err, &throttle), errors.As(err, &quota):
		return fmt.Errorf("%w: bedrock: %v", mealvoice.ErrRateLimited, err)
	case errors.As(err, &denied):
		return fmt.Errorf("%w: bedrock: %v", mealvoice.ErrInvalidCredential, err)
	case errors.As(err, &internal), errors.As(err, &unavailable), errors.As(err, &timeout), errors.As(err, &notReady):
		return fmt.Errorf("%w: bedrock: %v", mealvoice.ErrNetwork, err)
	}
	return fmt.Errorf("bedrock: %w", err)
}

func buildToolSpec() (types.ToolSpecification, error) {
	// The SDK document encoder ignores jsonschema's MarshalJSON, so hand it a plain map.
	schemaMap, err := parser.SchemaMap()
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("bedrock: marshal tool schema: %w", err)
	}

	return types.ToolSpecification{
		Name:        aws.String(parser.ToolName),
		Description: aws.String("Record every food and drink mentioned in the meal description."),
		InputSchema: &types.ToolInputSchemaMemberJson{
			Value: document.NewLazyDocument(schemaMap),
		},
	}, nil
}

// toolInput returns the JSON input of the first record_foods tool use, or nil
// when the response has none.
func toolInput(out *bedrockruntime.ConverseOutput) ([]byte, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return nil, nil
	}

	for _, cb := range msg.Value.Content {
		tu, ok := cb.(*types.ContentBlockMemberToolUse)
		if !ok || tu == nil || tu.Value.Input == nil {
			continue
		}
		if name := aws.ToString(tu.Value.Name); name != "" && name != parser.ToolName {
			slog.Warn("PARSER: Ignoring unexpected tool use", "name", name)
			continue
		}

		var input map[string]any
		if err := tu.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
			return nil, fmt.Errorf("bedrock: decode tool input: %w", err)
		}
		b, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("bedrock: encode tool input: %w", err)
		}
		return b, nil
	}
	return nil, nil
}

// textFromOutput returns the last text block that looks like a JSON object,
// or all text blocks joined.
func textFromOutput(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return ""
	}

	var texts []string
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t != nil && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	for i := len(texts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(texts[i])
		if len(s) > 1 && s[0] == '{' && s[len(s)-1] == '}' {
			return s
		}
	}
	return strings.Join(texts, "\n")
}
