package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mealvoice"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	status int
	body   string
	err    error
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader(m.body)),
		Header:     make(http.Header),
	}, nil
}

var sampleAudio = mealvoice.Audio{ID: "rec-1", Filename: "meal.m4a", MIMEType: "audio/mp4", Data: []byte("fake-audio")}

func TestClient_Transcribe_Request(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "ar", r.FormValue("language"))
		assert.Equal(t, "json", r.FormValue("response_format"))
		assert.NotEmpty(t, r.FormValue("prompt"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "fake-audio", string(b))
		assert.Equal(t, "meal.m4a", hdr.Filename)

		_, _ = io.WriteString(w, `{"text":" اكلت 2 كوب رز ","usage":{"type":"tokens","input_tokens":50,"output_tokens":12}}`)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOpts{
		BaseEndpoint: srv.URL + "/",
		APIKey:       "secret",
		ModelID:      "whisper-1",
		Language:     "ar",
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)

	got, err := c.Transcribe(context.Background(), sampleAudio)
	require.NoError(t, err)
	assert.Equal(t, "اكلت 2 كوب رز", got.Text)
	assert.Equal(t, "whisper-1", got.Model)
	assert.Equal(t, "ar", got.Language)
	assert.Equal(t, int64(62), got.Usage.Total())
}

func TestClient_Transcribe_Errors(t *testing.T) {
	tests := []struct {
		name      string
		client    *mockHTTPClient
		audio     mealvoice.Audio
		wantErrIs error
	}{
		{
			name:      "empty text",
			client:    &mockHTTPClient{status: 200, body: `{"text":"   "}`},
			audio:     sampleAudio,
			wantErrIs: mealvoice.ErrTranscriptionEmpty,
		},
		{
			name:      "empty audio",
			client:    &mockHTTPClient{status: 200, body: `{"text":"x"}`},
			audio:     mealvoice.Audio{ID: "rec-2"},
			wantErrIs: mealvoice.ErrTranscriptionEmpty,
		},
		{
			name:      "bad key",
			client:    &mockHTTPClient{status: 401, body: `{"error":{"message":"Incorrect API key"}}`},
			audio:     sampleAudio,
			wantErrIs: mealvoice.ErrInvalidCredential,
		},
		{
			name:      "rate limited",
			client:    &mockHTTPClient{status: 429, body: `slow down`},
			audio:     sampleAudio,
			wantErrIs: mealvoice.ErrRateLimited,
		},
		{
			name:      "server error",
			client:    &mockHTTPClient{status: 503, body: `unavailable`},
			audio:     sampleAudio,
			wantErrIs: mealvoice.ErrNetwork,
		},
		{
			name:      "transport",
			client:    &mockHTTPClient{err: errors.New("dial tcp: timeout")},
			audio:     sampleAudio,
			wantErrIs: mealvoice.ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(ClientOpts{BaseEndpoint: "https://api.example.com", ModelID: "whisper-1", HTTPClient: tt.client})
			require.NoError(t, err)

			_, err = c.Transcribe(context.Background(), tt.audio)
			assert.ErrorIs(t, err, tt.wantErrIs)
		})
	}
}

func TestClient_Transcribe_BadJSON(t *testing.T) {
	c, err := NewClient(ClientOpts{BaseEndpoint: "https://api.example.com", ModelID: "m", HTTPClient: &mockHTTPClient{status: 200, body: "<html>"}})
	require.NoError(t, err)

	_, err = c.Transcribe(context.Background(), sampleAudio)
	require.Error(t, err)
	assert.False(t, mealvoice.IsRetryable(err))
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(ClientOpts{BaseEndpoint: "https://api.example.com"})
	assert.Error(t, err)
}

func TestMock(t *testing.T) {
	m := NewMock("كوب شاي")

	got, err := m.Transcribe(context.Background(), sampleAudio)
	require.NoError(t, err)
	assert.Equal(t, "كوب شاي", got.Text)
	assert.Equal(t, MockModelID, got.Model)

	got, err = m.Transcribe(context.Background(), mealvoice.Audio{MIMEType: "text/plain", Data: []byte("طبق فول")})
	require.NoError(t, err)
	assert.Equal(t, "طبق فول", got.Text)

	_, err = NewMock("").Transcribe(context.Background(), sampleAudio)
	assert.ErrorIs(t, err, mealvoice.ErrTranscriptionEmpty)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Transcribe(ctx, sampleAudio)
	assert.ErrorIs(t, err, context.Canceled)
}
