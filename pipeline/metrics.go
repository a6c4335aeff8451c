package pipeline

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	runs           metric.Int64Counter
	runsCompleted  metric.Int64Counter
	runsFailed     metric.Int64Counter
	noFood         metric.Int64Counter
	parseRetries   metric.Int64Counter
	clarifications metric.Int64Counter
	confirmed      metric.Int64Counter
	duration       metric.Float64Histogram
	callLatency    metric.Float64Histogram
	foods          metric.Int64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var m metrics
	var errs [10]error

	m.runs, errs[0] = meter.Int64Counter("pipeline_runs_total",
		metric.WithDescription("Total number of recordings processed"))
	m.runsCompleted, errs[1] = meter.Int64Counter("pipeline_runs_completed_total",
		metric.WithDescription("Total number of recordings that produced food items"))
	m.runsFailed, errs[2] = meter.Int64Counter("pipeline_runs_failed_total",
		metric.WithDescription("Total number of recordings that failed, by reason"))
	m.noFood, errs[3] = meter.Int64Counter("pipeline_no_food_total",
		metric.WithDescription("Total number of transcripts with no food detected"))
	m.parseRetries, errs[4] = meter.Int64Counter("parse_retries_total",
		metric.WithDescription("Total number of parse retries after rate limits or network errors"))
	m.clarifications, errs[5] = meter.Int64Counter("items_needing_clarification_total",
		metric.WithDescription("Total number of items that required a clarification modal"))
	m.confirmed, errs[6] = meter.Int64Counter("entries_confirmed_total",
		metric.WithDescription("Total number of food entries written to daily logs"))
	m.duration, errs[7] = meter.Float64Histogram("pipeline_duration_seconds",
		metric.WithDescription("Duration of a full recording run in seconds"))
	m.callLatency, errs[8] = meter.Float64Histogram("model_call_latency_seconds",
		metric.WithDescription("Latency of transcription and parsing model calls in seconds"))
	m.foods, errs[9] = meter.Int64Histogram("foods_per_run",
		metric.WithDescription("Number of food items detected per recording"))

	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}
