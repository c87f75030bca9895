package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/ryuki-imachi/prezentation-feedback-agent/clients"
	"github.com/ryuki-imachi/prezentation-feedback-agent/features"
	"github.com/ryuki-imachi/prezentation-feedback-agent/transcript"
)

const DefaultExcerptRunes = 500

const speechSystemPrompt = `あなたは音声特徴分析の専門家です。
与えられた書き起こしデータと音声特徴量から、発表者の話し方について分析してください。

分析観点:
1. 話すスピード: 速すぎず遅すぎない適切なペースか（日本語: 300-350文字/分が目安）
2. フィラーワード: 不要な口癖（「えー」「あのー」など）が多くないか
3. 間（ポーズ）: 適切な間が取れているか

フィードバックは具体的かつ建設的に。数値的な根拠も示してください。
日本語で出力してください。

【出力形式】
JSON形式で以下の構造で出力してください:
{
  "feedback": "音声特徴に関するフィードバック（段落形式）",
  "strengths": ["強み1", "強み2", ...],
  "improvements": ["改善点1", "改善点2", ...]
}
`

// SpeechAnalyzer judges pace, filler words and pauses.
type SpeechAnalyzer struct {
	neg          *Negotiator
	excerptRunes int
}

func NewSpeechAnalyzer(inv clients.ModelInvoker, c Config, excerptRunes int) *SpeechAnalyzer {
	if excerptRunes <= 0 {
		excerptRunes = DefaultExcerptRunes
	}
	return &SpeechAnalyzer{neg: NewNegotiator(inv, c), excerptRunes: excerptRunes}
}

func (a *SpeechAnalyzer) Analyze(ctx context.Context, t *transcript.Transcript, f features.Record) (*Response, error) {
	prompt := SpeechPrompt(t, f, a.excerptRunes)
	return call(ctx, a.neg, StageDelivery, clients.PurposeDelivery, speechSystemPrompt, prompt, speechFallback)
}

func speechFallback(raw string) map[string]any {
	return map[string]any{
		"feedback":     raw,
		"strengths":    []any{},
		"improvements": []any{},
	}
}

// SpeechPrompt renders the feature record and a transcript excerpt.
func SpeechPrompt(t *transcript.Transcript, f features.Record, excerptRunes int) string {
	var fillers strings.Builder
	if len(f.FillerWords) == 0 {
		fillers.WriteString("  なし")
	}
	for i, fw := range f.FillerWords {
		if i > 0 {
			fillers.WriteByte('\n')
		}
		fmt.Fprintf(&fillers, "  - %s: %d回", fw.Word, fw.Count)
	}

	excerpt := ""
	if t != nil {
		excerpt = t.Excerpt(excerptRunes)
	}

	return fmt.Sprintf(`
以下の音声特徴量を分析してください。

【音声特徴量】
- 話速: %.1f 文字/分
- フィラーワード:
%s
- ポーズ統計:
  - 総ポーズ数: %d
  - 平均ポーズ時間: %.2f秒
  - 長すぎるポーズ: %d回

【書き起こしテキスト（抜粋）】
%s...

上記の情報をもとに、音声特徴についてフィードバックしてください。
`, f.SpeakingRate, fillers.String(), f.Pauses.Total, f.Pauses.AvgDuration, len(f.Pauses.LongPauses), excerpt)
}
