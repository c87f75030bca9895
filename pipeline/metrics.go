package pipeline

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
)

const TracerName = "pfeedback.pipeline"

// Span attribute keys.
const (
	AttrRunID        = "run_id"
	AttrAudioPath    = "audio_path"
	AttrStage        = "stage"
	AttrTier         = "tier"
	AttrModel        = "model"
	AttrInputTokens  = "input_tokens"
	AttrOutputTokens = "output_tokens"
	AttrErrorKind    = "error_kind"
)

// Metrics holds the prometheus metrics of the stage sequence.
type Metrics struct {
	StageSeconds  *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	ParseOutcomes *prometheus.CounterVec
	RunsTotal     *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pfeedback_stage_duration_seconds",
				Help:    "Wall time per pipeline stage",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"stage"},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfeedback_stage_failures_total",
				Help: "Stage failures by error kind",
			},
			[]string{"stage", "kind"},
		),
		ParseOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfeedback_parse_outcomes_total",
				Help: "Model outputs decoded versus replaced by the fallback",
			},
			[]string{"stage", "outcome"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pfeedback_runs_total",
				Help: "Finished pipeline runs by final state",
			},
			[]string{"state"},
		),
	}
}

func (m *Metrics) observeStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) observeFailure(stage string, kind pferrors.Kind) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage, string(kind)).Inc()
}

func (m *Metrics) observeParse(stage, outcome string) {
	if m == nil {
		return
	}
	m.ParseOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) observeRun(s State) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(s.String()).Inc()
}

type tracer struct {
	t trace.Tracer
}

func newTracer(t trace.Tracer) tracer {
	if t == nil {
		t = otel.Tracer(TracerName)
	}
	return tracer{t: t}
}

func (t tracer) startRun(ctx context.Context, runID, audioPath string) (context.Context, trace.Span) {
	return t.t.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.String(AttrAudioPath, audioPath),
		),
	)
}

func (t tracer) startStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.t.Start(ctx, fmt.Sprintf("pipeline.stage.%s", stage),
		trace.WithAttributes(attribute.String(AttrStage, stage)),
	)
}

func spanError(span trace.Span, err error) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorKind, string(pferrors.KindOf(err))))
	span.RecordError(err)
}

func spanUsage(span trace.Span, tier, model string, in, out int) {
	span.SetAttributes(
		attribute.String(AttrTier, tier),
		attribute.String(AttrModel, model),
		attribute.Int(AttrInputTokens, in),
		attribute.Int(AttrOutputTokens, out),
	)
}
