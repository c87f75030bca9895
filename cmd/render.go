package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ryuki-imachi/prezentation-feedback-agent/agents"
	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/ledger"
	"github.com/ryuki-imachi/prezentation-feedback-agent/pipeline"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

type output struct {
	pipeline.Result `yaml:",inline"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind       string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

func render(w io.Writer, format string, res *pipeline.Result, runErr error) error {
	switch format {
	case FormatJSON, FormatYAML:
		out := output{}
		if res != nil {
			out.Result = *res
		}
		if runErr != nil {
			out.Error = runErr.Error()
			out.ErrorKind = string(pferrors.KindOf(runErr))
		}
		if format == FormatJSON {
			enc := json.NewEncoder(w)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	case FormatText, "":
		renderText(w, res, runErr)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

const rule = "============================================================"

func renderText(w io.Writer, res *pipeline.Result, runErr error) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "プレゼンフィードバック分析")
	fmt.Fprintln(w, rule)
	if res != nil {
		fmt.Fprintf(w, "run: %s  state: %s\n", res.RunID, res.State)
	}

	if res != nil && res.Report != nil {
		renderReport(w, res)
	}

	if runErr != nil {
		fmt.Fprintln(w)
		if pferrors.IsNotImplemented(runErr) {
			fmt.Fprintf(w, "⚠ エラー: %v\n実装が完了していません。\n", runErr)
		} else {
			fmt.Fprintf(w, "❌ エラー: %v\n", runErr)
		}
	}

	if res != nil {
		fmt.Fprintln(w)
		renderCosts(w, res.Costs)
	}
}

func renderReport(w io.Writer, res *pipeline.Result) {
	rep := res.Report
	if res.Features != nil {
		fmt.Fprintf(w, "話速: %.1f 文字/分  フィラー: %d回  ポーズ: %d回 (長いポーズ %d回)\n",
			res.Features.SpeakingRate, res.Features.FillerTotal(), res.Features.Pauses.Total, len(res.Features.Pauses.LongPauses))
	}

	if st := res.Content.Structure(); st != nil {
		fmt.Fprintf(w, "構成: 導入 %s  まとめ %s\n", mark(st["has_intro"]), mark(st["has_conclusion"]))
	}

	fmt.Fprintln(w, "\n【総合サマリ】")
	fmt.Fprintln(w, rep.Summary)

	fmt.Fprintln(w, "\n【よかった点】")
	if len(rep.Strengths) == 0 {
		fmt.Fprintln(w, "  なし")
	}
	for i, s := range rep.Strengths {
		fmt.Fprintf(w, "%2d. [%s] %s\n", i+1, s.Category, s.Description)
		if s.Evidence != "" {
			fmt.Fprintf(w, "    根拠: %s\n", s.Evidence)
		}
	}

	fmt.Fprintln(w, "\n【改善点】")
	if len(rep.Improvements) == 0 {
		fmt.Fprintln(w, "  なし")
	}
	for i, im := range rep.Improvements {
		fmt.Fprintf(w, "%2d. (%s) [%s] %s\n", i+1, im.Priority, im.Category, im.Issue)
		if im.Suggestion != "" {
			fmt.Fprintf(w, "    → %s\n", im.Suggestion)
		}
	}

	fmt.Fprintln(w, "\n【詳細フィードバック】")
	fmt.Fprintln(w, detailedText(rep))
}

func mark(v any) string {
	if b, _ := v.(bool); b {
		return "あり"
	}
	return "なし"
}

// detailedText flattens an object-shaped detailed_feedback into one section
// per key, sorted by key.
func detailedText(rep *agents.FinalReport) string {
	switch d := rep.DetailedFeedback.(type) {
	case string:
		return d
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s: %v", k, d[k])
		}
		return b.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(d)
	}
}

func renderCosts(w io.Writer, s ledger.Summary) {
	fmt.Fprintln(w, "【コスト情報】")
	for _, svc := range s.Services {
		fmt.Fprintf(w, "  %-16s $%.4f\n", svc.Service, svc.CostUSD)
	}
	fmt.Fprintln(w, "  "+strings.Repeat("-", 40))
	fmt.Fprintf(w, "  合計: $%.4f\n", s.TotalCostUSD)
}
