package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mealvoice"
	"mealvoice/dailylog"
	"mealvoice/entitlement"
	"mealvoice/food"
	"mealvoice/notify"
	"mealvoice/parser/bedrock"
	"mealvoice/parser/mock"
	"mealvoice/parser/ollama"
	"mealvoice/pipeline"
	"mealvoice/store"
	"mealvoice/tracker"
	"mealvoice/transcribe"
)

// Usage: local [audio-file | "meal description"]
func main() {
	ctx := context.Background()

	var modelConfig mealvoice.ModelConfig
	if err := envdecode.Decode(&modelConfig); err != nil {
		log.Fatalf("SETUP: Failed to decode: %s", err)
	}

	var appConfig mealvoice.AppConfig
	if err := envdecode.Decode(&appConfig); err != nil {
		log.Fatalf("SETUP: Failed to decode: %s", err)
	}

	var storageConfig mealvoice.StorageConfig
	if err := envdecode.Decode(&storageConfig); err != nil {
		log.Fatalf("SETUP: Failed to decode: %s", err)
	}

	rules := food.DefaultRules()
	if appConfig.RulesPath != "" {
		var err error
		if rules, err = food.LoadRules(appConfig.RulesPath); err != nil {
			slog.Error("SETUP: Failed to load food rules", "path", appConfig.RulesPath, "error", err)
			return
		}
	}

	st, err := newStore(ctx, appConfig, storageConfig)
	if err != nil {
		slog.Error("SETUP: Failed to create store", "error", err)
		return
	}

	sink, cleanup, err := newSessionSink(appConfig.DataDir, modelConfig.NutritionModelID)
	if err != nil {
		slog.Error("SETUP: Failed to create session sink", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("SETUP: Failed to flush session log", "error", err)
		}
	}()

	tr := tracker.New(tracker.Options{Store: st, Sink: sink, HistoryCap: appConfig.SessionHistoryCap})
	if err := tr.Load(ctx); err != nil {
		slog.Warn("SETUP: Starting with empty session history", "error", err)
	}

	transcriber, err := newTranscriber(modelConfig, appConfig)
	if err != nil {
		slog.Error("SETUP: Failed to create transcriber", "error", err)
		return
	}

	nutritionParser, err := newParser(ctx, modelConfig, appConfig)
	if err != nil {
		slog.Error("SETUP: Failed to create parser", "error", err)
		return
	}

	tracerProvider, meterProvider, otelShutdown, err := mealvoice.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	tracer := tracerProvider.Tracer(mealvoice.TracerNamePipeline)
	meter := meterProvider.Meter(mealvoice.TracerNamePipeline)

	book := dailylog.NewBook(st, appConfig.CalorieGoal)
	p, err := pipeline.New(pipeline.Options{
		Transcriber:      transcriber,
		Parser:           nutritionParser,
		Normalizer:       food.NewNormalizer(rules),
		Tracker:          tr,
		Entitlement:      entitlement.NewQuota(st, appConfig.FreeDailyLimit, appConfig.Unlimited),
		Book:             book,
		ParseMaxAttempts: appConfig.ParseMaxAttempts,
		Tracer:           tracer,
		Meter:            meter,
	})
	if err != nil {
		slog.Error("SETUP: Failed to create pipeline", "error", err)
		return
	}

	ctx, span := tracer.Start(ctx, "mealvoice-local", trace.WithAttributes(
		attribute.String("model.transcription", transcriber.Model()),
		attribute.String("model.nutrition", nutritionParser.Model()),
		attribute.Float64("model.temperature", float64(modelConfig.Temperature)),
		attribute.Float64("model.top_p", float64(modelConfig.TopP)),
	))
	defer span.End()

	rec, err := recordingFromArg(argOr(1, "اتغديت طبق كشري وكوب شاي"), appConfig.TranscribeLanguage)
	if err != nil {
		slog.Error("SETUP: Failed to read recording", "error", err)
		return
	}

	res, err := p.Process(ctx, rec)
	if err != nil {
		if mealvoice.IsUserRecoverable(err) {
			slog.Warn("RESULT: Nothing to log, try again", "error", err)
		} else {
			slog.Error("FAILURE: Error processing recording", "error", err)
		}
		return
	}
	mealvoice.Dump(os.Stdout, res.Items)

	if res.NeedsClarification {
		for _, it := range res.Items {
			if it.NeedsClarification() {
				slog.Warn("RESULT: Item needs clarification",
					"food", it.Name,
					"quantity", it.NeedsQuantityModal,
					"cooking", it.NeedsCookingModal,
					"suggested_units", len(it.SuggestedUnits),
				)
			}
		}
		return
	}

	now := time.Now()
	daily, err := p.Confirm(ctx, dailylog.DateOf(now), dailylog.MealTypeAt(now), res.Items)
	if err != nil {
		slog.Error("FAILURE: Error confirming items", "error", err)
		return
	}
	slog.Info("RESULT: Items logged",
		"date", daily.Date,
		"entries", len(daily.Entries),
		"calories", daily.TotalNutrition.Calories,
		"remaining", daily.Remaining(),
		"usage_remaining", res.Usage.Remaining(),
	)

	webhookURL := appConfig.NotifyWebhookURL
	if webhookURL == "" {
		testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := new(bytes.Buffer)
			body.ReadFrom(r.Body) // nolint: errcheck
			slog.Info("Received request",
				"method", r.Method,
				"path", r.URL.Path,
				"body", body.String(),
			)
			w.WriteHeader(http.StatusOK)
		}))
		defer testServer.Close()
		webhookURL = testServer.URL
	}

	notifier := notify.NewClient(webhookURL, http.DefaultClient)
	if err := notifier.PostSummary(ctx, appConfig.NotifyChannel, daily); err != nil {
		slog.Error("Failed to post meal summary", "error", err)
	}
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}

// recordingFromArg reads arg as an audio file when it names one, and
// otherwise treats it as the meal description itself.
func recordingFromArg(arg, language string) (pipeline.Recording, error) {
	info, err := os.Stat(arg)
	if err != nil || info.IsDir() {
		return pipeline.Recording{Transcript: arg}, nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return pipeline.Recording{}, fmt.Errorf("failed to read audio: %w", err)
	}
	return pipeline.Recording{
		ID: filepath.Base(arg),
		Audio: mealvoice.Audio{
			ID:       filepath.Base(arg),
			Filename: filepath.Base(arg),
			MIMEType: mime.TypeByExtension(filepath.Ext(arg)),
			Data:     data,
			Language: language,
		},
	}, nil
}

func newStore(ctx context.Context, app mealvoice.AppConfig, cfg mealvoice.StorageConfig) (store.Store, error) {
	switch {
	case cfg.RedisAddr != "":
		rdb := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		slog.Info("SETUP: Using redis store", "addr", cfg.RedisAddr)
		return store.NewRedis(rdb, cfg.RedisPrefix, 0), nil
	case cfg.S3Bucket != "":
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		slog.Info("SETUP: Using S3 store", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		return store.NewS3(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
	}
	slog.Info("SETUP: Using file store", "dir", app.DataDir)
	return store.NewFile(app.DataDir), nil
}

func newTranscriber(modelConfig mealvoice.ModelConfig, app mealvoice.AppConfig) (pipeline.Transcriber, error) {
	if app.TranscribeAPIKey == "" {
		slog.Info("SETUP: No transcription API key, using mock transcriber")
		return transcribe.NewMock("اكلت طبق كشري وكوب شاي"), nil
	}
	return transcribe.NewClient(transcribe.ClientOpts{
		BaseEndpoint: app.TranscribeEndpoint,
		APIKey:       app.TranscribeAPIKey,
		ModelID:      modelConfig.TranscriptionModelID,
		Language:     app.TranscribeLanguage,
	})
}

func newParser(ctx context.Context, modelConfig mealvoice.ModelConfig, app mealvoice.AppConfig) (pipeline.Parser, error) {
	switch app.ParserBackend {
	case "mock":
		return mock.NewClient(), nil
	case "ollama":
		return ollama.NewClient(ollama.ClientOpts{
			BaseEndpoint: app.BaseOllamaEndpoint,
			ModelID:      modelConfig.NutritionModelID,
			Temperature:  float64(modelConfig.Temperature),
			TopP:         float64(modelConfig.TopP),
			HTTPClient:   http.DefaultClient,
		})
	case "bedrock":
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
		if err != nil {
			return nil, err
		}
		return bedrock.NewClient(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			ModelID:     modelConfig.NutritionModelID,
			MaxTokens:   modelConfig.MaxTokens,
			Temperature: modelConfig.Temperature,
			TopP:        modelConfig.TopP,
		})
	}
	return nil, fmt.Errorf("unknown parser backend %q", app.ParserBackend)
}

func newSessionSink(dir, modelID string) (tracker.SessionSink, func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to create data dir: %w", err)
	}
	logFilePath := tracker.NewSessionLogFilePath(dir, modelID)
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to open log file: %w", err)
	}

	sink := tracker.NewFileSink(logFile)
	cleanup := func() error {
		return errors.Join(sink.Flush(), logFile.Close())
	}
	return sink, cleanup, nil
}
