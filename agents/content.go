package agents

import (
	"context"
	"fmt"

	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

const contentSystemPrompt = `あなたはプレゼンテーション内容の分析専門家です。
書き起こしテキストから、発表の構成と言葉遣いを評価してください。

分析観点:
1. 構成: イントロ→本題→まとめの流れがあるか
   - イントロ: 最初の10%以内に導入・テーマ紹介があるか
   - まとめ: 最後の10%に結論・総括があるか
2. 論理性: 話の繋がりが自然か、トピック遷移がスムーズか
3. 言葉遣い: わかりやすい表現か、専門用語は適切か
4. 時間配分: イントロ・本題・まとめのバランスが取れているか

プレゼンテーションの「伝わりやすさ」を重視して評価してください。
日本語で出力してください。

【出力形式】
JSON形式で以下の構造で出力してください:
{
  "structure": {
    "has_intro": true/false,
    "has_conclusion": true/false,
    "feedback": "構成に関するフィードバック"
  },
  "language": {
    "clarity": "high/medium/low",
    "feedback": "言葉遣いに関するフィードバック"
  },
  "strengths": ["強み1", "強み2", ...],
  "improvements": ["改善点1", "改善点2", ...]
}
`

// ContentAnalyzer judges structure, logical flow, wording and time balance.
type ContentAnalyzer struct {
	neg *Negotiator
}

func NewContentAnalyzer(inv clients.ModelInvoker, c Config) *ContentAnalyzer {
	return &ContentAnalyzer{neg: NewNegotiator(inv, c)}
}

func (a *ContentAnalyzer) Analyze(ctx context.Context, t *transcript.Transcript) (*Response, error) {
	return call(ctx, a.neg, StageContent, clients.PurposeContent, contentSystemPrompt, ContentPrompt(t), contentFallback)
}

// Structure returns the "structure" object of a content response.
func (r *Response) Structure() map[string]any {
	m, _ := r.field("structure", nil).(map[string]any)
	return m
}

func contentFallback(raw string) map[string]any {
	return map[string]any{
		"structure": map[string]any{
			"has_intro":      false,
			"has_conclusion": false,
			"feedback":       raw,
		},
		"language": map[string]any{
			"clarity":  "",
			"feedback": "",
		},
		"strengths":    []any{},
		"improvements": []any{},
	}
}

// ContentPrompt renders the total duration and the full transcript text.
func ContentPrompt(t *transcript.Transcript) string {
	var dur float64
	var text string
	if t != nil {
		dur, text = t.Duration, t.Text
	}
	return fmt.Sprintf(`
以下のプレゼンテーション書き起こしを分析してください。

【総時間】
%.1f秒 (%.1f分)

【書き起こしテキスト】
%s

上記のプレゼンテーション内容について、構成・言葉遣い・論理性を評価してください。
`, dur, dur/60, text)
}
