package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ryuki-imachi/prezentation-feedback-agent/agents"
	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
	"github.com/ryuki-imachi/prezentation-feedback-agent/config"
	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/features"
	"github.com/ryuki-imachi/prezentation-feedback-agent/ledger"
	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type mockSynth struct{ mock.Mock }

func (m *mockSynth) Synthesize(ctx context.Context, speech, content *agents.Response) (*agents.FinalReport, error) {
	args := m.Called(ctx, speech, content)
	rep, _ := args.Get(0).(*agents.FinalReport)
	return rep, args.Error(1)
}

type contentFunc func(ctx context.Context, t *transcript.Transcript) (*agents.Response, error)

func (f contentFunc) Analyze(ctx context.Context, t *transcript.Transcript) (*agents.Response, error) {
	return f(ctx, t)
}

type transcriberFunc func(ctx context.Context, path, lang string) (*transcript.Transcript, error)

func (f transcriberFunc) Transcribe(ctx context.Context, path, lang string) (*transcript.Transcript, error) {
	return f(ctx, path, lang)
}

func demoStages(inv clients.ModelInvoker) Stages {
	log := quietLog()
	heavy := agents.Config{Tier: "claude_sonnet", Models: []string{"heavy"}, Log: log}
	light := agents.Config{Tier: "nova_lite", Models: []string{"light"}, Log: log}
	return Stages{
		Transcriber:  clients.DemoTranscriber{},
		Features:     features.NewExtractor(features.Config{}),
		Delivery:     agents.NewSpeechAnalyzer(inv, heavy, 0),
		Content:      agents.NewContentAnalyzer(inv, light),
		Orchestrator: agents.NewOrchestrator(inv, heavy, 0),
	}
}

func TestRun_DemoEndToEnd(t *testing.T) {
	var transitions []string
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := New(demoStages(&clients.DemoInvoker{}), Options{
		Log:     quietLog(),
		Metrics: m,
		OnTransition: func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	res, err := p.Run(context.Background(), "talk.wav")

	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.FailedStage)
	require.NotNil(t, res.Report)
	assert.Len(t, res.Report.Strengths, 3)
	assert.Equal(t, "heavy", res.Report.Model)
	require.NotNil(t, res.Features)
	assert.Equal(t, 3, res.Features.FillerTotal())
	assert.Equal(t, 51.5, res.Transcript.Duration)

	tr, _ := res.Costs.Service(ledger.TranscriptionService)
	assert.Equal(t, 0.0206, tr.CostUSD)
	heavy, _ := res.Costs.Service("claude_sonnet")
	assert.Equal(t, 850+1500, heavy.InputTokens)
	assert.Equal(t, 320+650, heavy.OutputTokens)
	assert.Equal(t, 0.0216, heavy.CostUSD)
	lite, _ := res.Costs.Service("nova_lite")
	assert.Equal(t, 920, lite.InputTokens)
	assert.Equal(t, 0.0423, res.Costs.TotalCostUSD)

	assert.Equal(t, []string{
		"idle>transcribing",
		"transcribing>feature_extraction",
		"feature_extraction>delivery_analysis",
		"delivery_analysis>content_analysis",
		"content_analysis>orchestration",
		"orchestration>done",
	}, transitions)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseOutcomes.WithLabelValues("delivery_analysis", "decoded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseOutcomes.WithLabelValues("orchestration", "decoded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("done")))
}

func TestRun_UnimplementedContentAnalysis(t *testing.T) {
	unimpl := pferrors.NotImplemented("analyze_content")
	synth := &mockSynth{}
	s := demoStages(&clients.DemoInvoker{})
	s.Content = contentFunc(func(context.Context, *transcript.Transcript) (*agents.Response, error) {
		return nil, unimpl
	})
	s.Orchestrator = synth
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	res, err := New(s, Options{Log: quietLog(), Metrics: m}).Run(context.Background(), "talk.wav")

	require.Error(t, err)
	assert.Equal(t, unimpl, err)
	assert.True(t, pferrors.IsNotImplemented(err))
	assert.Equal(t, "analyze_content: not implemented", err.Error())

	assert.Equal(t, Failed, res.State)
	assert.Equal(t, "content_analysis", res.FailedStage)
	assert.Nil(t, res.Report)
	assert.Nil(t, res.Speech)

	tr, _ := res.Costs.Service(ledger.TranscriptionService)
	assert.Equal(t, 51.5, tr.DurationSec)
	heavy, _ := res.Costs.Service("claude_sonnet")
	assert.Equal(t, 850, heavy.InputTokens)
	assert.Equal(t, 320, heavy.OutputTokens)
	lite, _ := res.Costs.Service("nova_lite")
	assert.Zero(t, lite.InputTokens)
	assert.Zero(t, lite.CostUSD)

	synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("content_analysis", "unimplemented")))
}

func TestRun_TranscriptionFailure(t *testing.T) {
	s := demoStages(&clients.DemoInvoker{})
	s.Transcriber = transcriberFunc(func(context.Context, string, string) (*transcript.Transcript, error) {
		return nil, pferrors.ErrTranscription
	})
	inv := &clients.DemoInvoker{}
	s.Delivery = agents.NewSpeechAnalyzer(inv, agents.Config{Tier: "claude_sonnet", Models: []string{"m"}, Log: quietLog()}, 0)

	res, err := New(s, Options{Log: quietLog()}).Run(context.Background(), "talk.wav")

	var se *pferrors.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "transcribing", se.Stage)
	assert.Equal(t, pferrors.KindCollaborator, se.Kind)
	assert.ErrorIs(t, err, pferrors.ErrTranscription)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 0.0, res.Costs.TotalCostUSD)
	assert.Empty(t, inv.Calls())
}

func TestRun_InvalidTranscript(t *testing.T) {
	s := demoStages(&clients.DemoInvoker{})
	s.Transcriber = transcriberFunc(func(context.Context, string, string) (*transcript.Transcript, error) {
		return transcript.New(nil, "ja-JP"), nil
	})

	_, err := New(s, Options{Log: quietLog()}).Run(context.Background(), "talk.wav")

	assert.ErrorIs(t, err, pferrors.ErrTranscription)
	assert.Equal(t, "transcribing", pferrors.StageOf(err))
}

func TestRun_UnknownTierIsConfigurationError(t *testing.T) {
	s := demoStages(&clients.DemoInvoker{})
	s.Delivery = agents.NewSpeechAnalyzer(&clients.DemoInvoker{}, agents.Config{Tier: "mystery", Models: []string{"m"}, Log: quietLog()}, 0)

	res, err := New(s, Options{Log: quietLog()}).Run(context.Background(), "talk.wav")

	var se *pferrors.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "delivery_analysis", se.Stage)
	assert.Equal(t, pferrors.KindConfiguration, se.Kind)
	assert.ErrorIs(t, err, pferrors.ErrUnknownTier)
	assert.Equal(t, 0.0206, res.Costs.TotalCostUSD)
}

func TestRun_ModelUnavailableHaltsRun(t *testing.T) {
	synth := &mockSynth{}
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, pferrors.ErrModelUnavailable).Once()
	s := demoStages(&clients.DemoInvoker{})
	s.Orchestrator = synth

	res, err := New(s, Options{Log: quietLog()}).Run(context.Background(), "talk.wav")

	assert.ErrorIs(t, err, pferrors.ErrModelUnavailable)
	assert.Equal(t, "orchestration", res.FailedStage)
	assert.Nil(t, res.Report)
	heavy, _ := res.Costs.Service("claude_sonnet")
	assert.Equal(t, 850, heavy.InputTokens)
	synth.AssertExpectations(t)
}

func TestRun_NilStageIsNotImplemented(t *testing.T) {
	s := demoStages(&clients.DemoInvoker{})
	s.Orchestrator = nil

	res, err := New(s, Options{Log: quietLog()}).Run(context.Background(), "talk.wav")

	assert.True(t, pferrors.IsNotImplemented(err))
	assert.Equal(t, "orchestration", res.FailedStage)
}

func TestRun_ParallelAnalysis(t *testing.T) {
	var mu sync.Mutex
	seen := map[State]bool{}
	p := New(demoStages(&clients.DemoInvoker{}), Options{
		Log:              quietLog(),
		ParallelAnalysis: true,
		OnTransition: func(_, to State) {
			mu.Lock()
			seen[to] = true
			mu.Unlock()
		},
	})

	res, err := p.Run(context.Background(), "talk.wav")

	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, 0.0423, res.Costs.TotalCostUSD)
	assert.True(t, seen[DeliveryAnalysis])
	assert.True(t, seen[ContentAnalysis])
}

func TestRun_ParallelFailureStillBlocksOrchestration(t *testing.T) {
	synth := &mockSynth{}
	s := demoStages(&clients.DemoInvoker{})
	s.Content = contentFunc(func(context.Context, *transcript.Transcript) (*agents.Response, error) {
		return nil, pferrors.ErrThrottled
	})
	s.Orchestrator = synth

	res, err := New(s, Options{Log: quietLog(), ParallelAnalysis: true}).Run(context.Background(), "talk.wav")

	assert.ErrorIs(t, err, pferrors.ErrThrottled)
	assert.Equal(t, "content_analysis", res.FailedStage)
	synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
}

func TestFromConfig_Demo(t *testing.T) {
	c := config.Default()
	c.UseDemo()

	p, err := FromConfig(context.Background(), c, Options{Log: quietLog()})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), "talk.wav")
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, config.ClaudeSonnet45, res.Report.Model)
	assert.Equal(t, "ja-JP", res.Transcript.Language)
}

func TestFromConfig_RejectsUnknownTier(t *testing.T) {
	c := config.Default()
	c.UseDemo()
	c.Agents.Orchestrator.Tier = "mystery"

	_, err := FromConfig(context.Background(), c, Options{Log: quietLog()})

	assert.ErrorIs(t, err, pferrors.ErrUnknownTier)
}

func TestSave(t *testing.T) {
	res, err := New(demoStages(&clients.DemoInvoker{}), Options{Log: quietLog()}).Run(context.Background(), "talk.wav")
	require.NoError(t, err)

	dir, err := Save(t.TempDir(), res)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(dir), "session_")

	raw, err := os.ReadFile(filepath.Join(dir, "costs.json"))
	require.NoError(t, err)
	var costs map[string]any
	require.NoError(t, json.Unmarshal(raw, &costs))
	assert.Equal(t, 0.0423, costs["total_cost_usd"])
	assert.Equal(t, "USD", costs["currency"])

	raw, err = os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var bundle map[string]any
	require.NoError(t, json.Unmarshal(raw, &bundle))
	assert.Equal(t, "done", bundle["state"])
	assert.Equal(t, res.RunID, bundle["run_id"])
}

func TestLoad_RoundTripsSavedRun(t *testing.T) {
	s := demoStages(&clients.DemoInvoker{})
	s.Content = nil
	res, err := New(s, Options{Log: quietLog()}).Run(context.Background(), "talk.wav")
	require.Error(t, err)

	dir, err := Save(t.TempDir(), res)
	require.NoError(t, err)

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Failed, got.State)
	assert.Equal(t, "content_analysis", got.FailedStage)
	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, res.Costs.TotalCostUSD, got.Costs.TotalCostUSD)
	assert.Len(t, got.Costs.Services, len(res.Costs.Services))
}

func TestLoad_UnknownState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.json"), []byte(`{"state":"sleeping"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "costs.json"), []byte(`{}`), 0o644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, `unknown state "sleeping"`)

	_, err = Load(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "content_analysis", ContentAnalysis.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Orchestration.Terminal())
}
