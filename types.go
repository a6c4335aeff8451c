package mealvoice

import (
	"net/http"
	"time"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Usage reports tokens consumed by a single model call. Zero means the
// provider did not report usage.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Audio is a recorded meal description handed to a transcriber.
type Audio struct {
	ID       string
	Filename string
	MIMEType string
	Data     []byte
	Language string
}

// Transcript is the text produced from an Audio recording.
type Transcript struct {
	Text     string        `json:"text"`
	Model    string        `json:"model"`
	Latency  time.Duration `json:"latency"`
	Language string        `json:"language,omitempty"`
	Usage    Usage         `json:"usage"`
}
