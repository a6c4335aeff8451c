package transcribe

import (
	"context"
	"log/slog"
	"strings"

	"mealvoice"
)

const MockModelID = "mock-transcriber"

// Mock returns a fixed transcript, or the audio bytes themselves when the
// MIME type is text/*. Used for local runs without an API key.
type Mock struct {
	Text string
}

func NewMock(text string) *Mock {
	return &Mock{Text: text}
}

func (m *Mock) Model() string { return MockModelID }

func (m *Mock) Transcribe(ctx context.Context, audio mealvoice.Audio) (mealvoice.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return mealvoice.Transcript{}, err
	}
	slog.Info("TRANSCRIBER: Mock invoked", "audio_id", audio.ID, "bytes", len(audio.Data))

	text := m.Text
	if strings.HasPrefix(audio.MIMEType, "text/") {
		text = string(audio.Data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return mealvoice.Transcript{}, mealvoice.ErrTranscriptionEmpty
	}
	return mealvoice.Transcript{Text: text, Model: MockModelID, Language: audio.Language}, nil
}
