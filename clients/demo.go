package clients

import (
	"context"
	"fmt"
	"sync"

	"github.com/ryuki-imachi/prezentation-feedback-agent/response"
	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

// DemoTranscriber returns a fixed Japanese presentation, whatever the input.
type DemoTranscriber struct{}

func (DemoTranscriber) Transcribe(ctx context.Context, _ string, language string) (*transcript.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if language == "" {
		language = transcript.DefaultLanguage
	}
	return transcript.New(DemoSegments(), language), nil
}

// DemoSegments is the canned presentation: 9 segments, 51.5 seconds.
func DemoSegments() []transcript.Segment {
	return []transcript.Segment{
		{Text: "皆さん、こんにちは。本日はAIを活用したプレゼンテーション分析システムについてご紹介します。", StartTime: 0.0, EndTime: 6.5, Confidence: 0.98},
		{Text: "えー、まず最初に、このシステムの概要についてお話しします。", StartTime: 7.0, EndTime: 11.2, Confidence: 0.95},
		{Text: "このシステムは、音声ファイルをアップロードするだけで、話し方や内容について詳細なフィードバックを提供します。", StartTime: 11.5, EndTime: 18.3, Confidence: 0.97},
		{Text: "あのー、具体的には、話すスピード、フィラーワード、プレゼンの構成などを分析します。", StartTime: 19.0, EndTime: 24.8, Confidence: 0.96},
		{Text: "次に、技術スタックについてご説明します。", StartTime: 25.2, EndTime: 28.5, Confidence: 0.98},
		{Text: "AWS TranscribeとAmazon Bedrockを活用しており、マルチエージェントシステムで多角的な分析を実現しています。", StartTime: 29.0, EndTime: 36.2, Confidence: 0.97},
		{Text: "えー、最後に、実際の活用例についてお話しします。", StartTime: 37.0, EndTime: 41.0, Confidence: 0.96},
		{Text: "このシステムを使うことで、プレゼンテーションスキルの向上に役立てることができます。", StartTime: 41.5, EndTime: 47.2, Confidence: 0.98},
		{Text: "以上で説明を終わります。ご清聴ありがとうございました。", StartTime: 47.8, EndTime: 51.5, Confidence: 0.99},
	}
}

// demoCallHistory bounds how many invocations a DemoInvoker remembers.
const demoCallHistory = 32

// DemoInvoker answers every invocation with a canned completion chosen by
// purpose. It remembers only the most recent invocations. It is safe for
// concurrent use.
type DemoInvoker struct {
	mu    sync.Mutex
	calls []Invocation
}

type demoAnswer struct {
	text  string
	usage response.Usage
}

var demoAnswers = map[Purpose]demoAnswer{
	PurposeDelivery: {
		usage: response.Usage{InputTokens: 850, OutputTokens: 320},
		text: "話し方の分析結果です。\n\n```json\n" + `{
  "feedback": "話すスピードは約325文字/分で、日本語プレゼンの目安である300-350文字/分に収まっています。フィラーワード「えー」「あのー」が合計3回検出されました。長すぎるポーズはなく、聞きやすいリズムです。",
  "strengths": ["話速が適切", "ポーズの取り方が自然"],
  "improvements": ["文頭のフィラーワードを短い間に置き換える"]
}` + "\n```\n",
	},
	PurposeContent: {
		usage: response.Usage{InputTokens: 920, OutputTokens: 380},
		text: "```json\n" + `{
  "structure": {
    "has_intro": true,
    "has_conclusion": true,
    "feedback": "導入・本題・まとめの構成がしっかりしており、「まず最初に」「次に」「最後に」によるトピック遷移も明確です。"
  },
  "language": {
    "clarity": "high",
    "feedback": "専門用語の使用は適切で、わかりやすい説明がなされています。"
  },
  "strengths": ["三部構成が明確", "接続表現の使い方が効果的"],
  "improvements": ["活用例を具体的なユースケースで補う"]
}` + "\n```",
	},
	PurposeReport: {
		usage: response.Usage{InputTokens: 1500, OutputTokens: 650},
		text: "最終レポートを作成しました。\n```json\n" + `{
  "summary": "全体的に構成がしっかりしており、適切な話速で発表されています。フィラーワードを意識的に減らすことで、より洗練されたプレゼンになるでしょう。",
  "strengths": [
    {"category": "プレゼン構成", "description": "導入・本題・まとめの三部構成が明確で、トピック遷移が自然です。", "evidence": "「まず最初に」「次に」「最後に」"},
    {"category": "話すスピード", "description": "聞き手が理解しやすいペースで話されています。", "evidence": "約325文字/分（目安: 300-350文字/分）"},
    {"category": "専門用語の説明", "description": "技術用語を使いつつも、わかりやすい説明を心がけています。"}
  ],
  "improvements": [
    {"category": "フィラーワード", "issue": "「えー」「あのー」が51秒の発表で3回と、若干多めです。", "suggestion": "発話前に一呼吸置き、フィラーワードの代わりに短い間を取りましょう。", "priority": "medium"},
    {"category": "時間配分", "issue": "全体で51秒と短めです。", "suggestion": "活用例について実際のユースケースを1-2個紹介すると効果的です。", "priority": "low"}
  ],
  "detailed_feedback": {
    "speech_feedback": "話し方は全体的に安定しており、適切なペースで発表されています。",
    "content_feedback": "構成が論理的で、トピック遷移がスムーズです。",
    "overall_impression": "全体として完成度の高いプレゼンテーションです。"
  }
}` + "\n```",
	},
}

func (d *DemoInvoker) Invoke(ctx context.Context, inv Invocation) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := demoAnswers[inv.Purpose]
	if !ok {
		return nil, fmt.Errorf("demo invoker: no canned answer for purpose %q", inv.Purpose)
	}
	d.mu.Lock()
	if len(d.calls) == demoCallHistory {
		copy(d.calls, d.calls[1:])
		d.calls = d.calls[:demoCallHistory-1]
	}
	d.calls = append(d.calls, inv)
	d.mu.Unlock()
	return &Completion{Text: a.text, Usage: a.usage, Model: inv.ModelID}, nil
}

// Calls returns the most recent invocations, oldest first.
func (d *DemoInvoker) Calls() []Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Invocation(nil), d.calls...)
}
