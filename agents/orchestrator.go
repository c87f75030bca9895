package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
)

const DefaultSummaryRunes = 200

const orchestratorSystemPrompt = `あなたはプレゼンテーション指導の専門家です。
音声特徴分析と内容分析の結果を統合し、発表者に役立つフィードバックレポートを作成してください。

【レポート構成】
1. 総合サマリ（2-3文）
2. よかった点 Top 3-5
   - 具体的に何が良かったか
   - 数値的根拠があれば記載
3. 改善点 Top 3-5
   - 何が課題か
   - どう改善すればよいか（具体的な提案）
4. 詳細フィードバック

分析結果に含まれない事実を新たに作らず、与えられた内容を整理・優先順位付けしてください。
トーン: 建設的でポジティブ。批判的にならず、成長をサポートする姿勢で。
日本語で出力してください。

【出力形式】
JSON形式で以下の構造で出力してください:
{
  "summary": "総合サマリ",
  "strengths": [
    {"category": "カテゴリ", "description": "説明", "evidence": "根拠"},
    ...
  ],
  "improvements": [
    {"category": "カテゴリ", "issue": "問題点", "suggestion": "改善提案", "priority": "high/medium/low"},
    ...
  ],
  "detailed_feedback": "詳細なフィードバック（段落形式）"
}
`

// Orchestrator merges the two analyses into the final report. It rephrases and
// prioritises what the analyses found and adds no new measurements.
type Orchestrator struct {
	neg          *Negotiator
	summaryRunes int
}

func NewOrchestrator(inv clients.ModelInvoker, c Config, summaryRunes int) *Orchestrator {
	if summaryRunes <= 0 {
		summaryRunes = DefaultSummaryRunes
	}
	return &Orchestrator{neg: NewNegotiator(inv, c), summaryRunes: summaryRunes}
}

func (o *Orchestrator) Synthesize(ctx context.Context, speech, content *Response) (*FinalReport, error) {
	prompt, err := OrchestratorPrompt(speech, content)
	if err != nil {
		return nil, err
	}
	fallback := func(raw string) map[string]any {
		r := []rune(raw)
		if len(r) > o.summaryRunes {
			r = r[:o.summaryRunes]
		}
		return map[string]any{
			"summary":           string(r),
			"strengths":         []any{},
			"improvements":      []any{},
			"detailed_feedback": raw,
		}
	}
	resp, err := call(ctx, o.neg, StageOrchestrator, clients.PurposeReport, orchestratorSystemPrompt, prompt, fallback)
	if err != nil {
		return nil, err
	}
	return NewFinalReport(resp), nil
}

type speechDigest struct {
	Feedback     any `json:"feedback"`
	Strengths    any `json:"strengths"`
	Improvements any `json:"improvements"`
}

type contentDigest struct {
	Structure    any `json:"structure"`
	Language     any `json:"language"`
	Strengths    any `json:"strengths"`
	Improvements any `json:"improvements"`
}

// OrchestratorPrompt embeds the relevant fields of both analyses as indented
// JSON. Missing fields render as empty values.
func OrchestratorPrompt(speech, content *Response) (string, error) {
	sd, err := indentJSON(speechDigest{
		Feedback:     speech.field("feedback", ""),
		Strengths:    speech.field("strengths", []any{}),
		Improvements: speech.field("improvements", []any{}),
	})
	if err != nil {
		return "", err
	}
	cd, err := indentJSON(contentDigest{
		Structure:    content.field("structure", map[string]any{}),
		Language:     content.field("language", map[string]any{}),
		Strengths:    content.field("strengths", []any{}),
		Improvements: content.field("improvements", []any{}),
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`
以下の分析結果を統合して、最終フィードバックレポートを作成してください。

【音声特徴分析】
%s

【内容分析】
%s

上記の分析結果をもとに、総合的なフィードバックレポートを生成してください。
よかった点と改善点をそれぞれ3-5個に絞り込み、優先順位をつけてください。
`, sd, cd), nil
}

func indentJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("orchestrator: encode analysis: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
