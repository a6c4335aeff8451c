package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"

	"mealvoice"
	"mealvoice/dailylog"
	"mealvoice/entitlement"
	"mealvoice/food"
	"mealvoice/parser/bedrock"
	"mealvoice/pipeline"
	"mealvoice/store"
	"mealvoice/tracker"
	"mealvoice/transcribe"
)

type Params struct {
	RecordingID string `json:"recording_id"`
	AudioB64    string `json:"audio_b64"`
	Filename    string `json:"filename"`
	MIMEType    string `json:"mime_type"`
	Transcript  string `json:"transcript"`

	// Confirm logs the items straight away when none need clarification.
	Confirm  bool   `json:"confirm"`
	MealType string `json:"meal_type"`
	Date     string `json:"date"`
}

type Results struct {
	Result   pipeline.Result     `json:"result"`
	DailyLog *dailylog.DailyLog `json:"daily_log,omitempty"`
}

func main() {
	ctx := context.Background()

	var modelConfig mealvoice.ModelConfig
	if err := envdecode.Decode(&modelConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var appConfig mealvoice.AppConfig
	if err := envdecode.Decode(&appConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var storageConfig mealvoice.StorageConfig
	if err := envdecode.Decode(&storageConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		log.Fatalf("SETUP: Failed to load AWS config: %s", err)
	}

	st, err := newStore(ctx, awsCfg, storageConfig)
	if err != nil {
		log.Fatalf("SETUP: Failed to create store: %s", err)
	}

	rules := food.DefaultRules()
	if appConfig.RulesPath != "" {
		if rules, err = food.LoadRules(appConfig.RulesPath); err != nil {
			log.Fatalf("SETUP: Failed to load food rules: %s", err)
		}
	}

	tr := tracker.New(tracker.Options{Store: st, Sink: tracker.NewStdoutSink(), HistoryCap: appConfig.SessionHistoryCap})
	if err := tr.Load(ctx); err != nil {
		slog.Warn("SETUP: Starting with empty session history", "error", err)
	}

	transcriber, err := transcribe.NewClient(transcribe.ClientOpts{
		BaseEndpoint: appConfig.TranscribeEndpoint,
		APIKey:       appConfig.TranscribeAPIKey,
		ModelID:      modelConfig.TranscriptionModelID,
		Language:     appConfig.TranscribeLanguage,
	})
	if err != nil {
		log.Fatalf("SETUP: Failed to create transcriber: %s", err)
	}

	llm, err := bedrock.NewClient(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
		ModelID:     modelConfig.NutritionModelID,
		MaxTokens:   modelConfig.MaxTokens,
		Temperature: modelConfig.Temperature,
		TopP:        modelConfig.TopP,
	})
	if err != nil {
		log.Fatalf("SETUP: Failed to create Bedrock parser: %s", err)
	}

	tracerProvider, meterProvider, _, err := mealvoice.InitOtel(ctx)
	if err != nil {
		log.Fatalf("SETUP: Failed to initialize OpenTelemetry: %s", err)
	}

	p, err := pipeline.New(pipeline.Options{
		Transcriber:      transcriber,
		Parser:           llm,
		Normalizer:       food.NewNormalizer(rules),
		Tracker:          tr,
		Entitlement:      entitlement.NewQuota(st, appConfig.FreeDailyLimit, appConfig.Unlimited),
		Book:             dailylog.NewBook(st, appConfig.CalorieGoal),
		ParseMaxAttempts: appConfig.ParseMaxAttempts,
		Tracer:           tracerProvider.Tracer(mealvoice.TracerNameBedrock),
		Meter:            meterProvider.Meter(mealvoice.TracerNameBedrock),
	})
	if err != nil {
		log.Fatalf("SETUP: Failed to create pipeline: %s", err)
	}

	fn := func(ctx context.Context, params Params) (Results, error) {
		defer func() {
			// Lambda may freeze the process after returning.
			if err := tracerProvider.ForceFlush(ctx); err != nil {
				slog.Error("SETUP: Failed to flush traces", "error", err)
			}
			if err := meterProvider.ForceFlush(ctx); err != nil {
				slog.Error("SETUP: Failed to flush metrics", "error", err)
			}
		}()

		rec, err := recordingFromParams(params, appConfig.TranscribeLanguage)
		if err != nil {
			return Results{}, err
		}

		res, err := p.Process(ctx, rec)
		if err != nil {
			slog.Error("RESULT: Error processing recording", "recording_id", rec.ID, "error", err)
			return Results{}, err
		}

		out := Results{Result: res}
		if !params.Confirm || res.NeedsClarification {
			return out, nil
		}

		now := time.Now()
		mealType := dailylog.MealTypeAt(now)
		if params.MealType != "" {
			if mealType, err = dailylog.ParseMealType(params.MealType); err != nil {
				return Results{}, err
			}
		}
		date := params.Date
		if date == "" {
			date = dailylog.DateOf(now)
		}

		daily, err := p.Confirm(ctx, date, mealType, res.Items)
		if err != nil {
			slog.Error("RESULT: Error confirming items", "recording_id", rec.ID, "error", err)
			return Results{}, err
		}
		out.DailyLog = &daily
		return out, nil
	}

	lambda.Start(fn)
}

func recordingFromParams(params Params, language string) (pipeline.Recording, error) {
	rec := pipeline.Recording{ID: params.RecordingID, Transcript: params.Transcript}
	if rec.Transcript != "" {
		return rec, nil
	}
	if params.AudioB64 == "" {
		return pipeline.Recording{}, fmt.Errorf("one of audio_b64 or transcript is required")
	}

	data, err := base64.StdEncoding.DecodeString(params.AudioB64)
	if err != nil {
		return pipeline.Recording{}, fmt.Errorf("failed to decode audio: %w", err)
	}
	rec.Audio = mealvoice.Audio{
		ID:       params.RecordingID,
		Filename: params.Filename,
		MIMEType: params.MIMEType,
		Data:     data,
		Language: language,
	}
	return rec, nil
}

func newStore(ctx context.Context, awsCfg aws.Config, cfg mealvoice.StorageConfig) (store.Store, error) {
	if cfg.RedisAddr != "" {
		rdb := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return store.NewRedis(rdb, cfg.RedisPrefix, 0), nil
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("missing store config: STORE_S3_BUCKET or STORE_REDIS_ADDR must be set")
	}
	return store.NewS3(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
}
