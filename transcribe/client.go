package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"mealvoice"
)

// Client transcribes audio through an OpenAI-compatible
// /v1/audio/transcriptions endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	language   string
	prompt     string
	httpClient mealvoice.HTTPClient
}

type ClientOpts struct {
	BaseEndpoint string
	APIKey       string
	ModelID      string
	// Language is an ISO-639-1 hint; empty lets the model detect it.
	Language string
	// Prompt biases the model towards expected vocabulary.
	Prompt     string
	HTTPClient mealvoice.HTTPClient
}

// DefaultPrompt nudges transcription towards Egyptian food vocabulary.
const DefaultPrompt = "وصف وجبة باللهجة المصرية: رز، عيش بلدي، فول، طعمية، كشري، فراخ مشوية، كوب شاي."

func NewClient(opts ClientOpts) (*Client, error) {
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, fmt.Errorf("transcribe: model id is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Client{
		endpoint:   strings.TrimRight(opts.BaseEndpoint, "/") + "/v1/audio/transcriptions",
		apiKey:     opts.APIKey,
		model:      opts.ModelID,
		language:   opts.Language,
		prompt:     opts.Prompt,
		httpClient: opts.HTTPClient,
	}, nil
}

func (c *Client) Model() string { return c.model }

type wireUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type wireResponse struct {
	Text     string     `json:"text"`
	Language string     `json:"language"`
	Usage    *wireUsage `json:"usage"`
}

// Transcribe uploads the audio and returns its text. Silence or noise that
// yields no text is reported as mealvoice.ErrTranscriptionEmpty.
func (c *Client) Transcribe(ctx context.Context, audio mealvoice.Audio) (mealvoice.Transcript, error) {
	if len(audio.Data) == 0 {
		return mealvoice.Transcript{}, fmt.Errorf("transcribe: %w: empty audio", mealvoice.ErrTranscriptionEmpty)
	}

	body, contentType, err := c.multipartBody(audio)
	if err != nil {
		return mealvoice.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return mealvoice.Transcript{}, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	slog.Info("TRANSCRIBER: Uploading audio", "model", c.model, "audio_id", audio.ID, "bytes", len(audio.Data))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return mealvoice.Transcript{}, ctx.Err()
		}
		return mealvoice.Transcript{}, fmt.Errorf("%w: transcribe: %v", mealvoice.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return mealvoice.Transcript{}, fmt.Errorf("%w: transcribe: read body: %v", mealvoice.ErrNetwork, err)
	}
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return mealvoice.Transcript{}, fmt.Errorf("transcribe: %w", mealvoice.StatusError(resp.StatusCode, string(raw)))
	}

	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return mealvoice.Transcript{}, fmt.Errorf("transcribe: decode response: %w", err)
	}

	text := strings.TrimSpace(wr.Text)
	if text == "" {
		return mealvoice.Transcript{}, mealvoice.ErrTranscriptionEmpty
	}

	t := mealvoice.Transcript{
		Text:     text,
		Model:    c.model,
		Latency:  latency,
		Language: wr.Language,
	}
	if wr.Usage != nil {
		t.Usage = mealvoice.Usage{InputTokens: wr.Usage.InputTokens, OutputTokens: wr.Usage.OutputTokens}
	}
	if t.Language == "" {
		t.Language = c.language
	}

	slog.Info("TRANSCRIBER: Transcript received",
		"model", c.model,
		"chars", len(text),
		"latency_ms", latency.Milliseconds(),
	)
	return t, nil
}

func (c *Client) multipartBody(audio mealvoice.Audio) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := audio.Filename
	if filename == "" {
		filename = "recording.m4a"
	}
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("transcribe: build form: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return nil, "", fmt.Errorf("transcribe: build form: %w", err)
	}

	language := audio.Language
	if language == "" {
		language = c.language
	}
	fields := [][2]string{
		{"model", c.model},
		{"response_format", "json"},
		{"language", language},
		{"prompt", c.prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("transcribe: build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("transcribe: build form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
