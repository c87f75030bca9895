package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ryuki-imachi/prezentation-feedback-agent/agents"
	"github.com/ryuki-imachi/prezentation-feedback-agent/features"
	"github.com/ryuki-imachi/prezentation-feedback-agent/ledger"
)

// ReportBundle is the content of report.json.
type ReportBundle struct {
	SessionID   string              `json:"session_id"`
	RunID       string              `json:"run_id"`
	AudioPath   string              `json:"audio_path"`
	GeneratedAt time.Time           `json:"generated_at"`
	State       State               `json:"state"`
	FailedStage string              `json:"failed_stage,omitempty"`
	Features    *features.Record    `json:"features,omitempty"`
	Speech      *agents.Response    `json:"speech,omitempty"`
	Content     *agents.Response    `json:"content,omitempty"`
	Report      *agents.FinalReport `json:"report,omitempty"`
}

func mkSessionDir(outputsRoot, runID string) (string, string, error) {
	ts := time.Now().Format("20060102-150405")
	sid := "session_" + ts
	if len(runID) >= 8 {
		sid += "_" + runID[:8]
	}
	dir := filepath.Join(outputsRoot, sid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	return sid, dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Save writes report.json and costs.json into a new session directory under
// outputsRoot and returns that directory. Failed runs are saved too; their
// report.json carries the failed stage and costs.json the partial ledger.
func Save(outputsRoot string, res *Result) (string, error) {
	if res == nil {
		return "", fmt.Errorf("save: nil result")
	}
	sid, dir, err := mkSessionDir(outputsRoot, res.RunID)
	if err != nil {
		return "", fmt.Errorf("save: %w", err)
	}

	bundle := ReportBundle{
		SessionID:   sid,
		RunID:       res.RunID,
		AudioPath:   res.AudioPath,
		GeneratedAt: time.Now(),
		State:       res.State,
		FailedStage: res.FailedStage,
		Features:    res.Features,
		Speech:      res.Speech,
		Content:     res.Content,
		Report:      res.Report,
	}
	if err := writeJSON(filepath.Join(dir, "report.json"), bundle); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "costs.json"), costsFile(res.Costs)); err != nil {
		return "", fmt.Errorf("save costs: %w", err)
	}
	return dir, nil
}

type costsBundle struct {
	ledger.Summary
	Currency string `json:"currency"`
}

func costsFile(s ledger.Summary) costsBundle {
	return costsBundle{Summary: s, Currency: "USD"}
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Load reads a session directory written by Save back into a Result. Fields
// that Save does not persist (transcript, timings) stay empty.
func Load(dir string) (*Result, error) {
	var b ReportBundle
	if err := readJSON(filepath.Join(dir, "report.json"), &b); err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	var c costsBundle
	if err := readJSON(filepath.Join(dir, "costs.json"), &c); err != nil {
		return nil, fmt.Errorf("load costs: %w", err)
	}
	return &Result{
		RunID:       b.RunID,
		AudioPath:   b.AudioPath,
		State:       b.State,
		FailedStage: b.FailedStage,
		Features:    b.Features,
		Speech:      b.Speech,
		Content:     b.Content,
		Report:      b.Report,
		Costs:       c.Summary,
	}, nil
}
