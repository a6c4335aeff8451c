package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mealvoice"
	"mealvoice/dailylog"
	"mealvoice/entitlement"
	"mealvoice/food"
	"mealvoice/parser"
	"mealvoice/store"
	"mealvoice/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

type fakeTranscriber struct {
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeTranscriber) Model() string { return "fake-whisper" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio mealvoice.Audio) (mealvoice.Transcript, error) {
	f.calls.Add(1)
	if f.err != nil {
		return mealvoice.Transcript{}, f.err
	}
	return mealvoice.Transcript{Text: f.text, Model: "fake-whisper", Usage: mealvoice.Usage{InputTokens: 10}}, nil
}

// fakeParser returns errs in order, then items.
type fakeParser struct {
	mu      sync.Mutex
	errs    []error
	items   []food.RawFoodItem
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *fakeParser) Model() string { return "fake-llm" }

func (f *fakeParser) Parse(ctx context.Context, transcript string) (parser.Outcome, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.started != nil && call == 1 {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return parser.Outcome{}, ctx.Err()
		}
	}

	if call <= len(f.errs) {
		return parser.Outcome{}, f.errs[call-1]
	}
	return parser.NewOutcome("fake-llm", f.items, mealvoice.Usage{InputTokens: 100, OutputTokens: 20}, 0), nil
}

func (f *fakeParser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var riceAndChicken = []food.RawFoodItem{
	{Name: "رز", Quantity: 2, Unit: "cups", Calories: 410, Protein: 8.6, Carbs: 89, Fat: 0.8, Confidence: 0.9},
	{Name: "فراخ", Quantity: 1, Unit: "pieces", Calories: 165, Protein: 31, Fat: 3.6, Confidence: 0.8, NeedsCookingMethod: true},
}

type harness struct {
	p       *Pipeline
	tr      *fakeTranscriber
	parser  *fakeParser
	tracker *tracker.Tracker
	quota   *entitlement.Quota
	mem     *store.Memory
}

func newHarness(t *testing.T, limit int) *harness {
	t.Helper()
	mem := store.NewMemory()
	h := &harness{
		tr:      &fakeTranscriber{text: "اكلت 2 كوب رز وفراخ"},
		parser:  &fakeParser{items: riceAndChicken},
		tracker: tracker.New(tracker.Options{Store: mem}),
		quota:   entitlement.NewQuota(mem, limit, false),
		mem:     mem,
	}
	p, err := New(Options{
		Transcriber:      h.tr,
		Parser:           h.parser,
		Tracker:          h.tracker,
		Entitlement:      h.quota,
		Book:             dailylog.NewBook(mem, 2000),
		ParseMaxAttempts: 3,
		InitialBackoff:   time.Millisecond,
		Tracer:           tracenoop.NewTracerProvider().Tracer("test"),
		Meter:            metricnoop.NewMeterProvider().Meter("test"),
	})
	require.NoError(t, err)
	h.p = p
	return h
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcriber is required")
	assert.Contains(t, err.Error(), "parser is required")
}

func TestProcess(t *testing.T) {
	h := newHarness(t, 5)

	res, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Audio: mealvoice.Audio{Data: []byte("x")}})
	require.NoError(t, err)

	assert.Equal(t, "rec-1", res.RecordingID)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "اكلت 2 كوب رز وفراخ", res.Transcript.Text)
	require.Len(t, res.Items, 2)

	rice := res.Items[0]
	assert.Equal(t, 370.0, rice.GramEquivalent)
	assert.False(t, rice.NeedsClarification())

	chicken := res.Items[1]
	assert.True(t, chicken.NeedsCookingModal)
	assert.True(t, res.NeedsClarification)
	assert.Equal(t, 575.0, res.Totals.Calories)

	assert.Equal(t, entitlement.Usage{Used: 1, Limit: 5}, res.Usage)

	hist := h.tracker.History()
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Success)
	assert.Equal(t, 2, hist[0].FinalFoodsCount)
	assert.True(t, hist[0].UserNeededModal)
	assert.Len(t, hist[0].Calls, 2)
	assert.Equal(t, "fake-whisper", hist[0].TranscriptionModel)
	assert.Equal(t, "fake-llm", hist[0].NutritionModel)
}

func TestProcess_TextInput(t *testing.T) {
	h := newHarness(t, 5)

	res, err := h.p.Process(context.Background(), Recording{Transcript: "كوب شاي"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RecordingID)
	assert.Equal(t, "كوب شاي", res.Transcript.Text)
	assert.Equal(t, int32(0), h.tr.calls.Load())

	hist := h.tracker.History()
	require.Len(t, hist, 1)
	assert.Equal(t, TextInputModel, hist[0].TranscriptionModel)
	assert.Len(t, hist[0].Calls, 1)
}

func TestProcess_RetriesTransientErrors(t *testing.T) {
	h := newHarness(t, 5)
	h.parser.errs = []error{
		mealvoice.ErrRateLimited,
		mealvoice.StatusError(503, "busy"),
	}

	res, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Audio: mealvoice.Audio{Data: []byte("x")}})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 3, h.parser.callCount())

	st, ok := h.tracker.Stats("fake-llm")
	require.True(t, ok)
	assert.Equal(t, 3, st.Calls)
	assert.Equal(t, 1, st.Successes)
}

func TestProcess_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, 5)
	h.parser.errs = []error{mealvoice.ErrNetwork, mealvoice.ErrNetwork, mealvoice.ErrNetwork, mealvoice.ErrNetwork}

	_, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Transcript: "رز"})
	require.ErrorIs(t, err, mealvoice.ErrNetwork)
	assert.Equal(t, 3, h.parser.callCount())

	u, err := h.quota.CurrentUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, u.Used, "failed runs are not charged")
}

func TestProcess_PermanentErrorNotRetried(t *testing.T) {
	h := newHarness(t, 5)
	h.parser.errs = []error{mealvoice.ErrInvalidCredential}

	_, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Transcript: "رز"})
	require.ErrorIs(t, err, mealvoice.ErrInvalidCredential)
	assert.Equal(t, 1, h.parser.callCount())

	hist := h.tracker.History()
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Success)
	assert.Contains(t, hist[0].PerformanceNotes, "parse")
}

func TestProcess_NoFood(t *testing.T) {
	h := newHarness(t, 5)
	h.parser.items = nil

	_, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Transcript: "كان يوم طويل"})
	require.ErrorIs(t, err, mealvoice.ErrNoFoodDetected)
	assert.True(t, mealvoice.IsUserRecoverable(err))

	hist := h.tracker.History()
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Success)
}

func TestProcess_TranscriptionEmpty(t *testing.T) {
	h := newHarness(t, 5)
	h.tr.err = mealvoice.ErrTranscriptionEmpty

	_, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Audio: mealvoice.Audio{Data: []byte("x")}})
	require.ErrorIs(t, err, mealvoice.ErrTranscriptionEmpty)
	assert.Equal(t, 0, h.parser.callCount())

	st, ok := h.tracker.Stats("fake-whisper")
	require.True(t, ok)
	assert.Equal(t, 0.0, st.SuccessRate)
}

func TestProcess_QuotaExceeded(t *testing.T) {
	h := newHarness(t, 1)

	_, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Transcript: "رز"})
	require.NoError(t, err)

	_, err = h.p.Process(context.Background(), Recording{ID: "rec-2", Transcript: "رز"})
	require.ErrorIs(t, err, mealvoice.ErrQuotaExceeded)
	assert.Equal(t, 1, h.parser.callCount())
	assert.Len(t, h.tracker.History(), 1)
}

func TestProcess_EntitlementStoreError(t *testing.T) {
	h := newHarness(t, 5)
	h.p.entitlement = entitlement.NewQuota(store.NewMemoryWithError(errors.New("down")), 5, false)

	_, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Transcript: "رز"})
	require.Error(t, err)
	assert.Equal(t, 0, h.parser.callCount())
}

func TestProcess_SingleFlight(t *testing.T) {
	h := newHarness(t, 5)
	h.parser.started = make(chan struct{})
	h.parser.release = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.p.Process(context.Background(), Recording{ID: "same", Transcript: "رز"})
		}()
	}

	<-h.parser.started
	time.Sleep(50 * time.Millisecond)
	close(h.parser.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, h.parser.callCount())
	assert.Equal(t, results[0].SessionID, results[1].SessionID)
}

func TestProcess_Canceled(t *testing.T) {
	h := newHarness(t, 5)
	h.parser.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.p.Process(ctx, Recording{ID: "rec-1", Transcript: "رز"})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not return after cancel")
	}
	assert.Equal(t, 1, h.parser.callCount())
}

func TestEditAndConfirm(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	res, err := h.p.Process(ctx, Recording{ID: "rec-1", Transcript: "رز وفراخ"})
	require.NoError(t, err)

	_, err = h.p.Confirm(ctx, "2025-01-31", dailylog.Lunch, res.Items)
	require.ErrorIs(t, err, ErrUnresolvedItem)

	chicken := res.Items[1]
	grilled := "Grilled"
	require.NoError(t, h.p.Edit(chicken, food.Edit{CookingMethod: &grilled}))
	assert.False(t, chicken.NeedsClarification())
	assert.Equal(t, 182.0, chicken.Nutrition.Calories)

	log, err := h.p.Confirm(ctx, "2025-01-31", dailylog.Lunch, res.Items)
	require.NoError(t, err)
	require.Len(t, log.Entries, 2)
	assert.Equal(t, 592.0, log.TotalNutrition.Calories)
	assert.Equal(t, dailylog.Lunch, log.Entries[0].MealType)

	_, err = h.mem.Get(ctx, dailylog.Key("2025-01-31"))
	assert.NoError(t, err)
}

func TestEditAndConfirm_VagueQuantity(t *testing.T) {
	h := newHarness(t, 5)
	h.parser.items = []food.RawFoodItem{
		{Name: "شوية رز", Calories: 200, Protein: 4, Carbs: 44, Fat: 0.4, NeedsQuantity: true},
	}
	ctx := context.Background()

	res, err := h.p.Process(ctx, Recording{ID: "rec-1", Transcript: "اكلت شوية رز"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	rice := res.Items[0]
	require.True(t, rice.NeedsQuantityModal)

	_, err = h.p.Confirm(ctx, "2025-01-31", dailylog.Dinner, res.Items)
	require.ErrorIs(t, err, ErrUnresolvedItem)

	qty, unit := 2.0, "cups"
	require.NoError(t, h.p.Edit(rice, food.Edit{Quantity: &qty, Unit: &unit}))
	assert.False(t, rice.NeedsClarification())

	log, err := h.p.Confirm(ctx, "2025-01-31", dailylog.Dinner, res.Items)
	require.NoError(t, err)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, 370.0, log.Entries[0].FoodItem.GramEquivalent)
	assert.Equal(t, food.Nutrition{Calories: 400, Protein: 8, Carbs: 88, Fat: 0.8}, log.TotalNutrition)
}

func TestProcess_TotalsAreRounded(t *testing.T) {
	h := newHarness(t, 5)
	h.parser.items = []food.RawFoodItem{
		{Name: "شاي", Quantity: 1, Unit: "cups", Calories: 1, Protein: 0.1, Fat: 0.1},
		{Name: "بسكويت", Quantity: 1, Unit: "pieces", Calories: 2, Protein: 0.2, Fat: 0.2},
	}

	res, err := h.p.Process(context.Background(), Recording{ID: "rec-1", Transcript: "شاي وبسكويت"})
	require.NoError(t, err)
	assert.Equal(t, food.Nutrition{Calories: 3, Protein: 0.3, Fat: 0.3}, res.Totals)
}
