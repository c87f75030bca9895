package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	pferrors "github.com/ryuki-imachi/prezentation-feedback-agent/errors"
	"github.com/ryuki-imachi/prezentation-feedback-agent/pipeline"
)

type analyzeOptions struct {
	language string
	demo     bool
	parallel bool
	format   string
	save     bool
}

func newAnalyzeCommand(a *app) *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <audio>",
		Short: "Analyze one recorded presentation",
		Long: `Run the full feedback pipeline on an audio file and print the report and
the cost summary. The cost summary is printed even when a stage fails.

With --demo no external service is called: a canned transcript and canned
model answers are used, and the audio argument may be omitted.

Examples:
  pfeedback analyze talk.wav
  pfeedback analyze talk.m4a --language en-US --format yaml
  pfeedback analyze --demo --save`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, a, o, args)
		},
	}
	cmd.Flags().StringVar(&o.language, "language", "", "language code of the talk (default from config, ja-JP)")
	cmd.Flags().BoolVar(&o.demo, "demo", false, "use the offline demo transcript and model answers")
	cmd.Flags().BoolVar(&o.parallel, "parallel", false, "run delivery and content analysis concurrently")
	cmd.Flags().StringVarP(&o.format, "format", "o", FormatText, "output format: text, json or yaml")
	cmd.Flags().BoolVar(&o.save, "save", false, "write report.json and costs.json under paths.outputs")
	return cmd
}

func runAnalyze(cmd *cobra.Command, a *app, o *analyzeOptions, args []string) error {
	switch o.format {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml): %w", o.format, pferrors.ErrInvalidInput)
	}

	c := *a.cfg
	if o.demo {
		c.UseDemo()
	}
	if o.language != "" {
		c.Pipeline.Language = o.language
	}

	audio := "demo.wav"
	if len(args) == 1 {
		audio = args[0]
	}
	if !o.demo {
		if len(args) == 0 {
			return fmt.Errorf("an audio file is required unless --demo is set: %w", pferrors.ErrInvalidInput)
		}
		if _, err := os.Stat(audio); err != nil {
			return fmt.Errorf("audio file: %w", err)
		}
	}

	opts := pipeline.Options{Log: a.log, ParallelAnalysis: o.parallel}
	if o.format == FormatText {
		opts.OnTransition = progress(cmd.ErrOrStderr())
	}
	p, err := pipeline.FromConfig(cmd.Context(), &c, opts)
	if err != nil {
		return err
	}

	res, runErr := p.Run(cmd.Context(), audio)
	if err := render(cmd.OutOrStdout(), o.format, res, runErr); err != nil {
		return err
	}

	if o.save {
		dir, err := pipeline.Save(c.Paths.Outputs, res)
		if err != nil {
			return err
		}
		a.log.WithField("dir", dir).Info("report saved")
	}
	return runErr
}

var stageLabels = map[pipeline.State]string{
	pipeline.Transcribing:      "[1/5] 音声を書き起こし中...",
	pipeline.FeatureExtraction: "[2/5] 音声特徴量を抽出中...",
	pipeline.DeliveryAnalysis:  "[3/5] 話し方を分析中...",
	pipeline.ContentAnalysis:   "[4/5] 内容を分析中...",
	pipeline.Orchestration:     "[5/5] 最終レポートを生成中...",
}

func progress(w io.Writer) func(from, to pipeline.State) {
	return func(_, to pipeline.State) {
		if label, ok := stageLabels[to]; ok {
			fmt.Fprintln(w, label)
		}
	}
}
