package agents

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/features"
	"github.com/ryuki-imachi/prezentation-feedback-agent/response"
	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

type mockInvoker struct{ mock.Mock }

func (m *mockInvoker) Invoke(ctx context.Context, inv clients.Invocation) (*clients.Completion, error) {
	args := m.Called(ctx, inv)
	c, _ := args.Get(0).(*clients.Completion)
	return c, args.Error(1)
}

func model(id string) any {
	return mock.MatchedBy(func(inv clients.Invocation) bool { return inv.ModelID == id })
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func cfg(models ...string) Config {
	return Config{Tier: "claude_sonnet", Models: models, MaxTokens: 512, Log: quietLog()}
}

func demoTranscript() *transcript.Transcript {
	return transcript.New(clients.DemoSegments(), "ja-JP")
}

func TestSpeechAnalyzer_DecodesFencedJSON(t *testing.T) {
	inv := &mockInvoker{}
	raw := "分析しました。\n```json\n{\"feedback\": \"良い\", \"strengths\": [\"話速\"], \"improvements\": []}\n```\n以上です。"
	inv.On("Invoke", mock.Anything, model("m1")).Return(&clients.Completion{
		Text:  raw,
		Usage: response.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil).Once()

	r, err := NewSpeechAnalyzer(inv, cfg("m1"), 0).Analyze(context.Background(), demoTranscript(), features.Record{})

	require.NoError(t, err)
	assert.Equal(t, response.Decoded, r.Outcome)
	assert.Equal(t, "良い", r.Feedback())
	assert.Equal(t, []string{"話速"}, r.Strengths())
	assert.Equal(t, []string{}, r.Improvements())
	assert.Equal(t, "m1", r.Model)
	assert.Equal(t, "claude_sonnet", r.Tier)
	assert.Equal(t, StageDelivery, r.Stage)
	assert.Equal(t, map[string]any{"input_tokens": 10, "output_tokens": 5}, r.Data["usage"])
	inv.AssertExpectations(t)
}

func TestSpeechAnalyzer_FallbackOnProse(t *testing.T) {
	inv := &mockInvoker{}
	raw := "JSONではない回答です。"
	inv.On("Invoke", mock.Anything, mock.Anything).Return(&clients.Completion{
		Text:  raw,
		Usage: response.Usage{InputTokens: 7, OutputTokens: 3},
	}, nil)

	r, err := NewSpeechAnalyzer(inv, cfg("m1"), 0).Analyze(context.Background(), demoTranscript(), features.Record{})

	require.NoError(t, err)
	assert.Equal(t, response.Fallback, r.Outcome)
	assert.Equal(t, map[string]any{
		"feedback":     raw,
		"strengths":    []any{},
		"improvements": []any{},
		"usage":        map[string]any{"input_tokens": 7, "output_tokens": 3},
	}, r.Data)
}

func TestContentAnalyzer_FallbackShape(t *testing.T) {
	inv := &mockInvoker{}
	inv.On("Invoke", mock.Anything, mock.MatchedBy(func(inv clients.Invocation) bool {
		return inv.Purpose == clients.PurposeContent && strings.Contains(inv.Prompt, "51.5秒 (0.9分)")
	})).Return(&clients.Completion{Text: "```json\n{broken\n```"}, nil)

	r, err := NewContentAnalyzer(inv, cfg("lite")).Analyze(context.Background(), demoTranscript())

	require.NoError(t, err)
	assert.Equal(t, response.Fallback, r.Outcome)
	assert.Equal(t, map[string]any{
		"has_intro":      false,
		"has_conclusion": false,
		"feedback":       "```json\n{broken\n```",
	}, r.Structure())
	assert.Equal(t, map[string]any{"clarity": "", "feedback": ""}, r.Data["language"])
	inv.AssertExpectations(t)
}

func TestOrchestrator_PlainProse(t *testing.T) {
	inv := &mockInvoker{}
	raw := strings.Repeat("あ", 150) + strings.Repeat("い", 100)
	inv.On("Invoke", mock.Anything, mock.Anything).Return(&clients.Completion{
		Text:  raw,
		Usage: response.Usage{InputTokens: 1500, OutputTokens: 650},
	}, nil)

	rep, err := NewOrchestrator(inv, cfg("sonnet"), 0).Synthesize(context.Background(), &Response{}, &Response{})

	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("あ", 150)+strings.Repeat("い", 50), rep.Summary)
	assert.Empty(t, rep.Strengths)
	assert.NotNil(t, rep.Strengths)
	assert.Empty(t, rep.Improvements)
	assert.NotNil(t, rep.Improvements)
	assert.Equal(t, raw, rep.DetailedFeedback)
	assert.Equal(t, response.Usage{InputTokens: 1500, OutputTokens: 650}, rep.Usage)
	assert.Equal(t, response.Fallback, rep.Outcome)
}

func TestOrchestrator_ReportFromDemoAnswer(t *testing.T) {
	rep, err := NewOrchestrator(&clients.DemoInvoker{}, cfg("demo"), 0).Synthesize(context.Background(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, response.Decoded, rep.Outcome)
	assert.Len(t, rep.Strengths, 3)
	require.Len(t, rep.Improvements, 2)
	assert.Equal(t, PriorityMedium, rep.Improvements[0].Priority)
	assert.IsType(t, map[string]any{}, rep.DetailedFeedback)
}

func TestOrchestratorPrompt(t *testing.T) {
	speech := &Response{Data: map[string]any{"feedback": "速い<です>", "strengths": []any{"声"}}}

	p, err := OrchestratorPrompt(speech, nil)

	require.NoError(t, err)
	assert.Contains(t, p, `"feedback": "速い<です>"`)
	assert.Contains(t, p, "\"strengths\": [\n    \"声\"\n  ]")
	assert.Contains(t, p, `"improvements": []`)
	assert.Contains(t, p, `"structure": {}`)
	assert.Less(t, strings.Index(p, `"feedback"`), strings.Index(p, `"strengths"`))
}

func TestSpeechPrompt(t *testing.T) {
	tr := transcript.New([]transcript.Segment{{Text: strings.Repeat("話", 600), StartTime: 0, EndTime: 120}}, "ja-JP")
	f := features.Record{
		SpeakingRate: 300.04,
		Pauses:       features.Pauses{Total: 2, AvgDuration: 1.255, LongPauses: []features.LongPause{{Time: 10, Duration: 4}}},
		FillerWords:  []features.FillerWord{{Word: "えー", Count: 3}, {Word: "まあ", Count: 1}},
	}

	p := SpeechPrompt(tr, f, 500)

	assert.Contains(t, p, "話速: 300.0 文字/分")
	assert.Contains(t, p, "  - えー: 3回\n  - まあ: 1回")
	assert.Contains(t, p, "総ポーズ数: 2")
	assert.Contains(t, p, "長すぎるポーズ: 1回")
	assert.Contains(t, p, strings.Repeat("話", 500)+"...")
	assert.NotContains(t, p, strings.Repeat("話", 501))

	assert.Contains(t, SpeechPrompt(tr, features.Record{}, 500), "  なし")
}

func TestNegotiator_FallsBackOnRetryable(t *testing.T) {
	inv := &mockInvoker{}
	inv.On("Invoke", mock.Anything, model("a")).Return(nil, pferrors.ErrThrottled).Once()
	inv.On("Invoke", mock.Anything, model("b")).Return(nil, pferrors.ErrModelUnavailable).Once()
	inv.On("Invoke", mock.Anything, model("c")).Return(&clients.Completion{Text: "{}"}, nil).Once()

	c, err := NewNegotiator(inv, cfg("a", "b", "c", "d")).Invoke(context.Background(), clients.Invocation{})

	require.NoError(t, err)
	assert.Equal(t, "c", c.Model)
	inv.AssertExpectations(t)
	inv.AssertNotCalled(t, "Invoke", mock.Anything, model("d"))
}

func TestNegotiator_StopsOnOtherErrors(t *testing.T) {
	inv := &mockInvoker{}
	boom := errors.New("validation failed")
	inv.On("Invoke", mock.Anything, model("a")).Return(nil, boom).Once()

	_, err := NewNegotiator(inv, cfg("a", "b")).Invoke(context.Background(), clients.Invocation{})

	assert.ErrorIs(t, err, boom)
	inv.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestNegotiator_Exhausted(t *testing.T) {
	inv := &mockInvoker{}
	inv.On("Invoke", mock.Anything, mock.Anything).Return(nil, pferrors.ErrThrottled)

	_, err := NewNegotiator(inv, cfg("a", "b")).Invoke(context.Background(), clients.Invocation{})

	assert.ErrorIs(t, err, pferrors.ErrThrottled)
	assert.ErrorContains(t, err, "all 2 model candidates failed")
	inv.AssertNumberOfCalls(t, "Invoke", 2)
}

func TestNegotiator_NoModels(t *testing.T) {
	_, err := NewNegotiator(&mockInvoker{}, cfg(" ")).Invoke(context.Background(), clients.Invocation{})
	assert.ErrorIs(t, err, pferrors.ErrMissingIdentifier)
}

func TestNegotiator_SetsMaxTokens(t *testing.T) {
	inv := &mockInvoker{}
	inv.On("Invoke", mock.Anything, mock.MatchedBy(func(inv clients.Invocation) bool { return inv.MaxTokens == 512 })).
		Return(&clients.Completion{}, nil).Once()

	_, err := NewNegotiator(inv, cfg("a")).Invoke(context.Background(), clients.Invocation{})

	require.NoError(t, err)
	inv.AssertExpectations(t)
}

func TestNewFinalReport_TolerantShapes(t *testing.T) {
	rep := NewFinalReport(&Response{Data: map[string]any{
		"summary":   "まとめ",
		"strengths": []any{"構成が明確", map[string]any{"description": "話速", "evidence": "325"}},
		"improvements": []any{
			"フィラー",
			map[string]any{"category": "間", "issue": "短い", "suggestion": "一呼吸", "priority": "HIGH"},
			map[string]any{"category": "量", "issue": "多い", "priority": "urgent"},
			map[string]any{"category": "尺", "priority": "低"},
		},
		"detailed_feedback": 42,
	}})

	assert.Equal(t, "まとめ", rep.Summary)
	assert.Equal(t, []Strength{
		{Category: "general", Description: "構成が明確"},
		{Category: "general", Description: "話速", Evidence: "325"},
	}, rep.Strengths)
	require.Len(t, rep.Improvements, 4)
	assert.Equal(t, Improvement{Category: "general", Issue: "フィラー", Priority: "medium"}, rep.Improvements[0])
	assert.Equal(t, "high", rep.Improvements[1].Priority)
	assert.Equal(t, "medium", rep.Improvements[2].Priority)
	assert.Equal(t, "low", rep.Improvements[3].Priority)
	assert.Equal(t, "42", rep.DetailedFeedback)
}

func TestNewFinalReport_Nil(t *testing.T) {
	rep := NewFinalReport(nil)
	assert.NotNil(t, rep.Strengths)
	assert.NotNil(t, rep.Improvements)
}
