// Package pipeline drives one presentation through transcription, feature
// extraction, the two analyses and the final report, metering every external
// call in a cost ledger.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ryuki-imachi/prezentation-feedback-agent/agents"
	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/features"
	"github.com/ryuki-imachi/prezentation-feedback-agent/ledger"
	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

type FeatureExtractor interface {
	Extract(t *transcript.Transcript) features.Record
}

type DeliveryAnalyzer interface {
	Analyze(ctx context.Context, t *transcript.Transcript, f features.Record) (*agents.Response, error)
}

type ContentAnalyzer interface {
	Analyze(ctx context.Context, t *transcript.Transcript) (*agents.Response, error)
}

type ReportSynthesizer interface {
	Synthesize(ctx context.Context, speech, content *agents.Response) (*agents.FinalReport, error)
}

// Stages are the collaborators of a run. A nil stage fails the run with a
// not-implemented error when reached.
type Stages struct {
	Transcriber  clients.Transcriber
	Features     FeatureExtractor
	Delivery     DeliveryAnalyzer
	Content      ContentAnalyzer
	Orchestrator ReportSynthesizer
}

type Options struct {
	Language         string
	ParallelAnalysis bool
	Pricing          ledger.Pricing
	Log              logrus.FieldLogger
	Metrics          *Metrics
	LedgerMetrics    *ledger.Metrics
	Tracer           trace.Tracer
	// OnTransition is called on every state change. Calls are serialized.
	OnTransition func(from, to State)
}

type Pipeline struct {
	stages Stages
	opts   Options
	log    logrus.FieldLogger
	tracer tracer
}

func New(s Stages, o Options) *Pipeline {
	if o.Language == "" {
		o.Language = transcript.DefaultLanguage
	}
	if o.Pricing.Tiers == nil {
		o.Pricing = ledger.DefaultPricing()
	}
	log := o.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{stages: s, opts: o, log: log, tracer: newTracer(o.Tracer)}
}

// Result is the outcome of one run. On failure only the identifying fields,
// the state and Costs are set; Costs then holds what was metered before the
// failing stage.
type Result struct {
	RunID       string                 `json:"run_id" yaml:"run_id"`
	AudioPath   string                 `json:"audio_path" yaml:"audio_path"`
	State       State                  `json:"state" yaml:"state"`
	FailedStage string                 `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Transcript  *transcript.Transcript `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Features    *features.Record       `json:"features,omitempty" yaml:"features,omitempty"`
	Speech      *agents.Response       `json:"speech,omitempty" yaml:"speech,omitempty"`
	Content     *agents.Response       `json:"content,omitempty" yaml:"content,omitempty"`
	Report      *agents.FinalReport    `json:"report,omitempty" yaml:"report,omitempty"`
	Costs       ledger.Summary         `json:"costs" yaml:"costs"`
	StartedAt   time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time              `json:"finished_at" yaml:"finished_at"`
}

// failure tags an error with the state it happened in.
type failure struct {
	state State
	err   error
}

func (f *failure) Error() string { return f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

type run struct {
	p   *Pipeline
	res *Result
	led *ledger.Ledger
	log logrus.FieldLogger
	mu  sync.Mutex
}

// Run executes every stage in order. Unimplemented-operation errors come back
// unchanged; any other failure is a *errors.StageError naming the stage. The
// result is never nil.
func (p *Pipeline) Run(ctx context.Context, audioPath string) (*Result, error) {
	r := &run{
		p:   p,
		res: &Result{RunID: uuid.NewString(), AudioPath: audioPath, State: Idle, StartedAt: time.Now()},
		led: ledger.New(p.opts.Pricing, ledger.WithMetrics(p.opts.LedgerMetrics)),
	}
	r.log = p.log.WithField("run_id", r.res.RunID)

	ctx, span := p.tracer.startRun(ctx, r.res.RunID, audioPath)
	defer span.End()

	r.log.WithField("audio", audioPath).Info("pipeline run started")
	err := r.execute(ctx)
	if err != nil {
		err = r.fail(err)
		spanError(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	r.res.Costs = r.led.Summary()
	r.res.FinishedAt = time.Now()
	p.opts.Metrics.observeRun(r.res.State)

	entry := r.log.WithFields(logrus.Fields{
		"state":          r.res.State.String(),
		"total_cost_usd": r.res.Costs.TotalCostUSD,
		"elapsed":        r.res.FinishedAt.Sub(r.res.StartedAt).Round(time.Millisecond).String(),
	})
	if err != nil {
		entry.WithError(err).WithField("stage", r.res.FailedStage).Error("pipeline run failed")
		return r.res, err
	}
	entry.Info("pipeline run finished")
	return r.res, nil
}

func (r *run) execute(ctx context.Context) error {
	s := r.p.stages

	tr, err := step(ctx, r, Transcribing, func(ctx context.Context, span trace.Span) (*transcript.Transcript, error) {
		if s.Transcriber == nil {
			return nil, pferrors.NotImplemented("transcription")
		}
		tr, err := s.Transcriber.Transcribe(ctx, r.res.AudioPath, r.p.opts.Language)
		if err != nil {
			return nil, err
		}
		if err := tr.Validate(); err != nil {
			return nil, err
		}
		if err := r.led.RecordTranscription(tr.Duration); err != nil {
			return nil, err
		}
		r.log.WithFields(logrus.Fields{"segments": len(tr.Segments), "duration_sec": tr.Duration}).Info("transcription finished")
		return tr, nil
	})
	if err != nil {
		return err
	}

	feat, err := step(ctx, r, FeatureExtraction, func(ctx context.Context, span trace.Span) (features.Record, error) {
		if s.Features == nil {
			return features.Record{}, pferrors.NotImplemented("feature extraction")
		}
		f := s.Features.Extract(tr)
		r.log.WithFields(logrus.Fields{
			"speaking_rate": f.SpeakingRate,
			"pauses":        f.Pauses.Total,
			"fillers":       f.FillerTotal(),
		}).Info("features extracted")
		return f, nil
	})
	if err != nil {
		return err
	}

	delivery := func(ctx context.Context) (*agents.Response, error) {
		return step(ctx, r, DeliveryAnalysis, func(ctx context.Context, span trace.Span) (*agents.Response, error) {
			if s.Delivery == nil {
				return nil, pferrors.NotImplemented("delivery analysis")
			}
			resp, err := s.Delivery.Analyze(ctx, tr, feat)
			if err != nil {
				return nil, err
			}
			return resp, r.meter(span, DeliveryAnalysis, resp)
		})
	}
	content := func(ctx context.Context) (*agents.Response, error) {
		return step(ctx, r, ContentAnalysis, func(ctx context.Context, span trace.Span) (*agents.Response, error) {
			if s.Content == nil {
				return nil, pferrors.NotImplemented("content analysis")
			}
			resp, err := s.Content.Analyze(ctx, tr)
			if err != nil {
				return nil, err
			}
			return resp, r.meter(span, ContentAnalysis, resp)
		})
	}

	var speech, cont *agents.Response
	if r.p.opts.ParallelAnalysis {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			speech, err = delivery(gctx)
			return err
		})
		g.Go(func() (err error) {
			cont, err = content(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		if speech, err = delivery(ctx); err != nil {
			return err
		}
		if cont, err = content(ctx); err != nil {
			return err
		}
	}

	rep, err := step(ctx, r, Orchestration, func(ctx context.Context, span trace.Span) (*agents.FinalReport, error) {
		if s.Orchestrator == nil {
			return nil, pferrors.NotImplemented("orchestration")
		}
		rep, err := s.Orchestrator.Synthesize(ctx, speech, cont)
		if err != nil {
			return nil, err
		}
		r.p.opts.Metrics.observeParse(Orchestration.String(), string(rep.Outcome))
		spanUsage(span, rep.Tier, rep.Model, rep.Usage.InputTokens, rep.Usage.OutputTokens)
		if err := r.led.RecordModelUsage(rep.Tier, rep.Usage.InputTokens, rep.Usage.OutputTokens); err != nil {
			return nil, err
		}
		return rep, nil
	})
	if err != nil {
		return err
	}

	r.res.Transcript = tr
	r.res.Features = &feat
	r.res.Speech = speech
	r.res.Content = cont
	r.res.Report = rep
	r.enter(Done)
	return nil
}

// meter feeds the ledger with the usage of an analysis response.
func (r *run) meter(span trace.Span, s State, resp *agents.Response) error {
	r.p.opts.Metrics.observeParse(s.String(), string(resp.Outcome))
	spanUsage(span, resp.Tier, resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return r.led.RecordModelUsage(resp.Tier, resp.Usage.InputTokens, resp.Usage.OutputTokens)
}

// step enters state s, runs fn inside a span and times it. Errors come back
// tagged with s.
func step[T any](ctx context.Context, r *run, s State, fn func(context.Context, trace.Span) (T, error)) (T, error) {
	r.enter(s)
	ctx, span := r.p.tracer.startStage(ctx, s.String())
	defer span.End()

	start := time.Now()
	out, err := fn(ctx, span)
	elapsed := time.Since(start)
	r.p.opts.Metrics.observeStage(s.String(), elapsed.Seconds())

	if err != nil {
		spanError(span, err)
		var zero T
		return zero, &failure{state: s, err: err}
	}
	r.log.WithFields(logrus.Fields{"stage": s.String(), "elapsed": elapsed.Round(time.Millisecond).String()}).Debug("stage finished")
	return out, nil
}

func (r *run) enter(to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.res.State.Terminal() {
		return
	}
	from := r.res.State
	r.res.State = to
	r.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("state transition")
	if r.p.opts.OnTransition != nil {
		r.p.opts.OnTransition(from, to)
	}
}

// fail moves the run to Failed and classifies err for the caller.
func (r *run) fail(err error) error {
	stage := r.res.State
	var f *failure
	if errors.As(err, &f) {
		stage, err = f.state, f.err
	}
	r.enter(Failed)
	r.res.FailedStage = stage.String()

	out := pferrors.Classify(stage.String(), err)
	r.p.opts.Metrics.observeFailure(stage.String(), pferrors.KindOf(out))
	return out
}
