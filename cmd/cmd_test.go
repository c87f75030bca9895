package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("CONFIG_ENV", "does-not-exist")
	t.Setenv("ORCHESTRATOR_MODEL_ID", "")

	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestAnalyze_DemoText(t *testing.T) {
	out, progress, err := execute(t, "analyze", "--demo")

	require.NoError(t, err)
	assert.Contains(t, out, "【総合サマリ】")
	assert.Contains(t, out, "【よかった点】")
	assert.Contains(t, out, "(medium) [フィラーワード]")
	assert.Contains(t, out, "構成: 導入 あり  まとめ あり")
	assert.Contains(t, out, "合計: $0.0423")
	assert.Contains(t, progress, "[1/5]")
	assert.Contains(t, progress, "[5/5]")
}

func TestAnalyze_DemoJSON(t *testing.T) {
	out, _, err := execute(t, "analyze", "--demo", "--parallel", "--format", "json")

	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "done", body["state"])
	assert.NotContains(t, body, "error")
	report := body["report"].(map[string]any)
	assert.Len(t, report["strengths"], 3)
	assert.Equal(t, 0.0423, body["costs"].(map[string]any)["total_cost_usd"])
}

func TestAnalyze_DemoYAML(t *testing.T) {
	out, _, err := execute(t, "analyze", "--demo", "-o", "yaml")

	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &body))
	assert.Equal(t, "done", body["state"])
	assert.Contains(t, body, "costs")
}

func TestAnalyze_Save(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PF_PATHS_OUTPUTS", dir)

	_, _, err := execute(t, "analyze", "--demo", "--save", "-o", "json")

	require.NoError(t, err)
	sessions, err := filepath.Glob(filepath.Join(dir, "session_*", "costs.json"))
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	out, _, err := execute(t, "show", filepath.Dir(sessions[0]))
	require.NoError(t, err)
	assert.Contains(t, out, "state: done")
	assert.Contains(t, out, "【総合サマリ】")
	assert.Contains(t, out, "構成: 導入 あり  まとめ あり")
	assert.Contains(t, out, "合計: $0.0423")
}

func TestShow_MissingSession(t *testing.T) {
	_, _, err := execute(t, "show", filepath.Join(t.TempDir(), "session_none"))
	assert.ErrorContains(t, err, "load report")
}

func TestAnalyze_FailurePrintsCosts(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "talk.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
services:
  transcription:
    backend: http
    url: http://127.0.0.1:1
    timeout_seconds: 2
  model:
    backend: demo
`), 0o644))

	out, _, err := execute(t, "analyze", audio, "--config", cfgPath)

	require.Error(t, err)
	assert.ErrorIs(t, err, pferrors.ErrTranscription)
	assert.Equal(t, "transcribing", pferrors.StageOf(err))
	assert.Contains(t, out, "❌ エラー:")
	assert.Contains(t, out, "合計: $0.0000")
}

func TestAnalyze_RequiresAudio(t *testing.T) {
	_, _, err := execute(t, "analyze")
	assert.ErrorIs(t, err, pferrors.ErrInvalidInput)

	_, _, err = execute(t, "analyze", filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestAnalyze_BadFormat(t *testing.T) {
	_, _, err := execute(t, "analyze", "--demo", "--format", "xml")
	assert.ErrorIs(t, err, pferrors.ErrInvalidInput)
}

func TestTiers(t *testing.T) {
	out, _, err := execute(t, "tiers")

	require.NoError(t, err)
	assert.Contains(t, out, "claude_sonnet")
	assert.Contains(t, out, "orchestrator,speech")
	assert.Contains(t, out, "nova_lite")
	assert.Contains(t, out, "transcription: $0.0004 per second")
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pfeedback dev\n", out)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger("warn", "json", &buf)
	require.NoError(t, err)
	l.WithField("run_id", "r1").Warn("hello")
	assert.Contains(t, buf.String(), `"run_id":"r1"`)

	_, err = newLogger("loud", "text", &buf)
	assert.Error(t, err)
	_, err = newLogger("info", "xml", &buf)
	assert.Error(t, err)
}
