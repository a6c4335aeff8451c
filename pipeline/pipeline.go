package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mealvoice"
	"mealvoice/dailylog"
	"mealvoice/entitlement"
	"mealvoice/food"
	"mealvoice/parser"
	"mealvoice/tracker"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ErrUnresolvedItem is returned by Confirm when an item still needs a
// quantity or cooking method from the user.
var ErrUnresolvedItem = errors.New("item needs clarification")

// TextInputModel is recorded as the transcription model when a recording
// arrives as text and no transcription call is made.
const TextInputModel = "text-input"

type Transcriber interface {
	Model() string
	Transcribe(ctx context.Context, audio mealvoice.Audio) (mealvoice.Transcript, error)
}

type Parser interface {
	Model() string
	Parse(ctx context.Context, transcript string) (parser.Outcome, error)
}

// Recording is one meal description submitted by the user. When Transcript
// is set the audio is ignored and transcription is skipped.
type Recording struct {
	ID         string
	Audio      mealvoice.Audio
	Transcript string
}

// Result is what the review screen renders.
type Result struct {
	RecordingID        string                     `json:"recording_id"`
	SessionID          string                     `json:"session_id"`
	Transcript         mealvoice.Transcript       `json:"transcript"`
	Items              []*food.ReconciledFoodItem `json:"items"`
	Totals             food.Nutrition             `json:"totals"`
	NeedsClarification bool                       `json:"needs_clarification"`
	Usage              entitlement.Usage          `json:"usage"`
}

type Options struct {
	Transcriber Transcriber
	Parser      Parser
	Normalizer  *food.Normalizer
	Tracker     *tracker.Tracker
	Entitlement entitlement.Checker
	Book        *dailylog.Book

	// ParseMaxAttempts bounds parse retries on rate limits and network errors.
	ParseMaxAttempts uint
	// InitialBackoff is the first retry delay; it doubles on each attempt.
	InitialBackoff time.Duration

	Tracer trace.Tracer
	Meter  metric.Meter
}

// Pipeline turns a recording into reconciled food items and confirms them
// into the daily log.
type Pipeline struct {
	transcriber Transcriber
	parser      Parser
	normalizer  *food.Normalizer
	tracker     *tracker.Tracker
	entitlement entitlement.Checker
	book        *dailylog.Book

	maxAttempts    uint
	initialBackoff time.Duration

	tracer  trace.Tracer
	metrics *metrics
	group   singleflight.Group
	now     func() time.Time
}

func New(opts Options) (*Pipeline, error) {
	var errs []error
	if opts.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if opts.Parser == nil {
		errs = append(errs, errors.New("parser is required"))
	}
	if opts.Tracker == nil {
		errs = append(errs, errors.New("tracker is required"))
	}
	if opts.Entitlement == nil {
		errs = append(errs, errors.New("entitlement checker is required"))
	}
	if opts.Book == nil {
		errs = append(errs, errors.New("daily log book is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if opts.Normalizer == nil {
		opts.Normalizer = food.NewNormalizer(nil)
	}
	if opts.ParseMaxAttempts == 0 {
		opts.ParseMaxAttempts = 3
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(mealvoice.TracerNamePipeline)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(mealvoice.TracerNamePipeline)
	}

	m, err := newMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("pipeline: metrics: %w", err)
	}

	return &Pipeline{
		transcriber:    opts.Transcriber,
		parser:         opts.Parser,
		normalizer:     opts.Normalizer,
		tracker:        opts.Tracker,
		entitlement:    opts.Entitlement,
		book:           opts.Book,
		maxAttempts:    opts.ParseMaxAttempts,
		initialBackoff: opts.InitialBackoff,
		tracer:         opts.Tracer,
		metrics:        m,
		now:            time.Now,
	}, nil
}

// Process runs entitlement, transcription, parsing and normalization for
// rec. Concurrent calls for the same recording ID share one run; the first
// caller's context governs it.
func (p *Pipeline) Process(ctx context.Context, rec Recording) (Result, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	v, err, shared := p.group.Do(rec.ID, func() (any, error) {
		return p.process(ctx, rec)
	})
	if shared {
		slog.Info("PIPELINE: Run shared across callers", "recording_id", rec.ID)
	}
	res, _ := v.(Result)
	return res, err
}

func (p *Pipeline) process(ctx context.Context, rec Recording) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Process")
	defer span.End()
	span.SetAttributes(attribute.String("recording_id", rec.ID))

	start := time.Now()
	p.metrics.runs.Add(ctx, 1)

	res, reason, err := p.run(ctx, rec)

	p.metrics.duration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.runsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.SetStatus(codes.Error, reason)
		span.RecordError(err)
		slog.Warn("PIPELINE: Run failed", "recording_id", rec.ID, "reason", reason, "error", err)
		return Result{}, err
	}

	p.metrics.runsCompleted.Add(ctx, 1)
	p.metrics.foods.Record(ctx, int64(len(res.Items)))
	span.SetAttributes(attribute.Int("foods", len(res.Items)))
	slog.Info("PIPELINE: Run completed",
		"recording_id", rec.ID,
		"session_id", res.SessionID,
		"foods", len(res.Items),
		"calories", res.Totals.Calories,
		"needs_clarification", res.NeedsClarification,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// run returns a short failure reason alongside any error, for metrics.
func (p *Pipeline) run(ctx context.Context, rec Recording) (Result, string, error) {
	allowed, err := p.entitlement.CanPerformAction(ctx)
	if err != nil {
		return Result{}, "entitlement", fmt.Errorf("check entitlement: %w", err)
	}
	if !allowed {
		return Result{}, "quota", mealvoice.ErrQuotaExceeded
	}

	transcriptionModel := p.transcriber.Model()
	if rec.Transcript != "" {
		transcriptionModel = TextInputModel
	}
	sessionID := p.tracker.StartSession(transcriptionModel, p.parser.Model())
	fail := func(reason string, err error) (Result, string, error) {
		p.tracker.CompleteSession(ctx, sessionID, tracker.Outcome{Success: false, PerformanceNotes: reason + ": " + err.Error()})
		return Result{}, reason, err
	}

	transcript, err := p.transcribe(ctx, sessionID, rec)
	if err != nil {
		return fail("transcribe", err)
	}

	outcome, err := p.parse(ctx, sessionID, transcript.Text)
	if err != nil {
		return fail("parse", err)
	}
	if !outcome.Found() {
		p.metrics.noFood.Add(ctx, 1)
		return fail("no_food", mealvoice.ErrNoFoodDetected)
	}

	items := p.normalizer.NormalizeAll(outcome.Items)

	var confSum float64
	needsModal := false
	for _, it := range items {
		confSum += it.OverallConfidence
		if it.NeedsClarification() {
			needsModal = true
			p.metrics.clarifications.Add(ctx, 1)
		}
	}

	p.tracker.CompleteSession(ctx, sessionID, tracker.Outcome{
		FinalFoodsCount:   len(items),
		UserNeededModal:   needsModal,
		AverageConfidence: confSum / float64(len(items)),
		Success:           true,
	})

	if err := p.entitlement.Consume(ctx); err != nil {
		slog.Warn("PIPELINE: Failed to record usage", "recording_id", rec.ID, "error", err)
	}
	usage, err := p.entitlement.CurrentUsage(ctx)
	if err != nil {
		slog.Warn("PIPELINE: Failed to read usage", "recording_id", rec.ID, "error", err)
	}

	return Result{
		RecordingID:        rec.ID,
		SessionID:          sessionID,
		Transcript:         transcript,
		Items:              items,
		Totals:             food.Round(food.Totals(items)),
		NeedsClarification: needsModal,
		Usage:              usage,
	}, "", nil
}

func (p *Pipeline) transcribe(ctx context.Context, sessionID string, rec Recording) (mealvoice.Transcript, error) {
	if rec.Transcript != "" {
		return mealvoice.Transcript{Text: rec.Transcript, Model: TextInputModel, Language: rec.Audio.Language}, nil
	}

	ctx, span := p.tracer.Start(ctx, "Pipeline.Transcribe")
	defer span.End()

	model := p.transcriber.Model()
	start := time.Now()
	t, err := p.transcriber.Transcribe(ctx, rec.Audio)
	latency := time.Since(start)

	p.tracker.TrackModelCall(sessionID, model, latency, t.Usage.Total(), err == nil)
	p.metrics.callLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(
		attribute.String("stage", "transcribe"),
		attribute.String("model", model),
		attribute.Bool("success", err == nil),
	))

	if err != nil {
		span.SetStatus(codes.Error, "transcribe failed")
		span.RecordError(err)
		return mealvoice.Transcript{}, fmt.Errorf("transcribe: %w", err)
	}
	return t, nil
}

// parse calls the parser, retrying rate limits and network errors with
// exponential backoff. Every attempt is tracked.
func (p *Pipeline) parse(ctx context.Context, sessionID, text string) (parser.Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Parse")
	defer span.End()

	model := p.parser.Model()
	attempt := 0

	operation := func() (parser.Outcome, error) {
		attempt++
		start := time.Now()
		out, err := p.parser.Parse(ctx, text)
		latency := time.Since(start)

		p.tracker.TrackModelCall(sessionID, model, latency, out.Usage.Total(), err == nil)
		p.metrics.callLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(
			attribute.String("stage", "parse"),
			attribute.String("model", model),
			attribute.Bool("success", err == nil),
		))

		if err != nil {
			if ctx.Err() != nil || !mealvoice.IsRetryable(err) {
				return parser.Outcome{}, backoff.Permanent(err)
			}
			return parser.Outcome{}, err
		}
		return out, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.metrics.parseRetries.Add(ctx, 1)
			slog.Warn("PIPELINE: Retrying parse", "attempt", attempt, "next_in", next, "error", err)
		}),
	)
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		span.SetStatus(codes.Error, "parse failed")
		span.RecordError(err)
		return parser.Outcome{}, fmt.Errorf("parse: %w", err)
	}
	return out, nil
}

// Edit applies a clarification modal change to item.
func (p *Pipeline) Edit(item *food.ReconciledFoodItem, e food.Edit) error {
	return p.normalizer.ApplyEdit(item, e)
}

// Confirm writes items to the daily log for date, one serving each. Every
// item must have its clarifications resolved first.
func (p *Pipeline) Confirm(ctx context.Context, date string, mealType dailylog.MealType, items []*food.ReconciledFoodItem) (dailylog.DailyLog, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Confirm")
	defer span.End()

	at := p.now()
	entries := make([]dailylog.Entry, 0, len(items))
	for _, it := range items {
		if it.NeedsClarification() {
			return dailylog.DailyLog{}, fmt.Errorf("confirm %q: %w", it.Name, ErrUnresolvedItem)
		}
		entries = append(entries, dailylog.EntryFromItem(it, 1, mealType, at))
	}

	log, err := p.book.Add(ctx, date, entries...)
	if err != nil {
		span.SetStatus(codes.Error, "confirm failed")
		span.RecordError(err)
		return dailylog.DailyLog{}, err
	}
	p.metrics.confirmed.Add(ctx, int64(len(entries)), metric.WithAttributes(attribute.String("meal_type", string(mealType))))
	return log, nil
}
