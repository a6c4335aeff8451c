package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mealvoice/store"

	"github.com/google/uuid"
)

// StoreKey is where the session history and model stats are persisted.
const StoreKey = "model_sessions"

const DefaultHistoryCap = 100

// DefaultRates are blended USD prices per million tokens. Models missing
// from the table are treated as free (local models, mocks).
var DefaultRates = map[string]float64{
	"us.anthropic.claude-3-7-sonnet-20250219-v1:0": 6.0,
	"us.anthropic.claude-3-5-haiku-20241022-v1:0":  1.6,
	"us.amazon.nova-lite-v1:0":                     0.12,
	"gpt-4o-mini":                                  0.375,
	"gpt-4o-mini-transcribe":                       1.25,
	"gpt-4o-transcribe":                            2.5,
}

// Call is one external model call observed during a session.
type Call struct {
	Model   string        `json:"model"`
	Latency time.Duration `json:"latency"`
	Tokens  int64         `json:"tokens"`
	Success bool          `json:"success"`
	CostUSD float64       `json:"cost_usd"`
	At      time.Time     `json:"at"`
}

// Outcome summarizes a finished transcribe and parse round trip.
type Outcome struct {
	FinalFoodsCount   int     `json:"final_foods_count"`
	UserNeededModal   bool    `json:"user_needed_modal"`
	AverageConfidence float64 `json:"average_confidence"`
	Success           bool    `json:"success"`
	PerformanceNotes  string  `json:"performance_notes,omitempty"`
}

// Session is a completed ModelUsageSession. It is written once and never
// changed afterwards.
type Session struct {
	SessionID          string    `json:"session_id"`
	TranscriptionModel string    `json:"transcription_model"`
	NutritionModel     string    `json:"nutrition_model"`
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at"`
	Calls              []Call    `json:"calls"`
	Outcome
}

// TotalLatency sums the latency of every call in the session.
func (s Session) TotalLatency() time.Duration {
	var d time.Duration
	for _, c := range s.Calls {
		d += c.Latency
	}
	return d
}

// ModelStats are running aggregates for a single model.
type ModelStats struct {
	Model            string        `json:"model"`
	Calls            int           `json:"calls"`
	Successes        int           `json:"successes"`
	AverageLatency   time.Duration `json:"average_latency"`
	SuccessRate      float64       `json:"success_rate"`
	TotalTokens      int64         `json:"total_tokens"`
	EstimatedCostUSD float64       `json:"estimated_cost_usd"`
}

type Options struct {
	// Store persists the history. Nil keeps it in memory only.
	Store store.Store
	// Sink receives every completed session. Nil discards them.
	Sink SessionSink
	// HistoryCap bounds the ring buffer. Zero means DefaultHistoryCap.
	HistoryCap int
	// Rates overrides DefaultRates.
	Rates map[string]float64
}

// Tracker records per-call latency, token and cost metrics and keeps a
// bounded history of completed sessions. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	store store.Store
	sink  SessionSink
	rates map[string]float64

	open    map[string]*Session
	ring    []Session
	head    int // next write position once the ring is full
	stats   map[string]*ModelStats
	now     func() time.Time
	newID   func() string
	persist sync.Mutex
}

func New(opts Options) *Tracker {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	if opts.Rates == nil {
		opts.Rates = DefaultRates
	}
	if opts.Sink == nil {
		opts.Sink = NewNoOpSink()
	}
	return &Tracker{
		store: opts.Store,
		sink:  opts.Sink,
		rates: opts.Rates,
		open:  map[string]*Session{},
		ring:  make([]Session, 0, opts.HistoryCap),
		stats: map[string]*ModelStats{},
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// StartSession opens a session and returns its ID.
func (t *Tracker) StartSession(transcriptionModel, nutritionModel string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.newID()
	t.open[id] = &Session{
		SessionID:          id,
		TranscriptionModel: transcriptionModel,
		NutritionModel:     nutritionModel,
		StartedAt:          t.now(),
	}
	slog.Debug("TRACKER: Session started", "session_id", id)
	return id
}

// TrackModelCall folds one call into the model's running stats and appends
// it to the open session. An unknown session still updates the stats.
func (t *Tracker) TrackModelCall(sessionID, model string, latency time.Duration, tokens int64, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cost := t.cost(model, tokens)

	st, ok := t.stats[model]
	if !ok {
		st = &ModelStats{Model: model}
		t.stats[model] = st
	}
	st.Calls++
	if success {
		st.Successes++
	}
	st.AverageLatency += (latency - st.AverageLatency) / time.Duration(st.Calls)
	st.SuccessRate = float64(st.Successes) / float64(st.Calls)
	st.TotalTokens += tokens
	st.EstimatedCostUSD += cost

	s, ok := t.open[sessionID]
	if !ok {
		slog.Warn("TRACKER: Call for unknown session", "session_id", sessionID, "model", model)
		return
	}
	s.Calls = append(s.Calls, Call{
		Model:   model,
		Latency: latency,
		Tokens:  tokens,
		Success: success,
		CostUSD: cost,
		At:      t.now(),
	})
}

// CompleteSession closes the session, appends it to the history and
// persists the history. Persistence and sink failures are logged, never
// returned.
func (t *Tracker) CompleteSession(ctx context.Context, sessionID string, outcome Outcome) {
	t.mu.Lock()
	s, ok := t.open[sessionID]
	if !ok {
		t.mu.Unlock()
		slog.Warn("TRACKER: Complete for unknown session", "session_id", sessionID)
		return
	}
	delete(t.open, sessionID)

	s.Outcome = outcome
	s.CompletedAt = t.now()
	done := *s
	t.push(done)
	t.mu.Unlock()

	slog.Info("TRACKER: Session completed",
		"session_id", done.SessionID,
		"calls", len(done.Calls),
		"foods", done.FinalFoodsCount,
		"needed_modal", done.UserNeededModal,
		"success", done.Success,
		"latency_ms", done.TotalLatency().Milliseconds(),
	)

	if err := t.sink.Record(done); err != nil {
		slog.Warn("TRACKER: Sink failed", "session_id", done.SessionID, "error", err)
	}
	if err := t.save(ctx); err != nil {
		slog.Warn("TRACKER: Persist failed", "session_id", done.SessionID, "error", err)
	}
}

// History returns completed sessions from oldest to newest.
func (t *Tracker) History() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.historyLocked()
}

// Stats returns the running stats for model.
func (t *Tracker) Stats(model string) (ModelStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.stats[model]
	if !ok {
		return ModelStats{}, false
	}
	return *st, true
}

// AllStats returns stats for every model seen, sorted by model name.
func (t *Tracker) AllStats() []ModelStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

// Load restores history and stats from the store. A missing key is not an error.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	b, err := t.store.Get(ctx, StoreKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tracker: load: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("tracker: decode history: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ring = t.ring[:0]
	t.head = 0
	for _, s := range snap.Sessions {
		t.push(s)
	}
	t.stats = map[string]*ModelStats{}
	for _, st := range snap.Stats {
		t.stats[st.Model] = &st
	}
	return nil
}

type snapshot struct {
	Sessions []Session    `json:"sessions"`
	Stats    []ModelStats `json:"stats"`
}

func (t *Tracker) push(s Session) {
	if len(t.ring) < cap(t.ring) {
		t.ring = append(t.ring, s)
		return
	}
	t.ring[t.head] = s
	t.head = (t.head + 1) % len(t.ring)
}

func (t *Tracker) historyLocked() []Session {
	out := make([]Session, 0, len(t.ring))
	out = append(out, t.ring[t.head:]...)
	out = append(out, t.ring[:t.head]...)
	return out
}

func (t *Tracker) statsLocked() []ModelStats {
	out := make([]ModelStats, 0, len(t.stats))
	for _, st := range t.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// save writes the current history. The snapshot is taken under the persist
// lock so an older snapshot never lands after a newer one.
func (t *Tracker) save(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.persist.Lock()
	defer t.persist.Unlock()

	t.mu.Lock()
	snap := snapshot{Sessions: t.historyLocked(), Stats: t.statsLocked()}
	t.mu.Unlock()

	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, StoreKey, b)
}

func (t *Tracker) cost(model string, tokens int64) float64 {
	rate, ok := t.rates[model]
	if !ok || tokens <= 0 {
		return 0
	}
	return float64(tokens) * rate / 1_000_000
}
