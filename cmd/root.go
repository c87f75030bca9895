// Package cmd provides the pfeedback command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ryuki-imachi/prezentation-feedback-agent/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// app is the state shared by the subcommands once the root has run.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string

	cfg *config.Root
	log *logrus.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "pfeedback",
		Short: "Presentation feedback from a recorded talk",
		Long: `pfeedback transcribes a recorded presentation, measures pace, filler words
and pauses, and asks language models for structured feedback on delivery and
content. Every run reports the estimated cost of the services it used.

Examples:
  pfeedback analyze talk.m4a
  pfeedback analyze --demo --format json
  pfeedback serve --addr :8080
  pfeedback show outputs/session_20250101-120000_1a2b3c4d
  pfeedback tiers`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: config/$CONFIG_ENV/config.yaml, then ./config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format override (text, json)")

	root.AddCommand(newAnalyzeCommand(a))
	root.AddCommand(newServeCommand(a))
	root.AddCommand(newTiersCommand(a))
	root.AddCommand(newShowCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	c, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		c.Pipeline.LogLvl = a.logLevel
	}
	if a.logFormat != "" {
		c.Pipeline.LogFormat = a.logFormat
	}
	log, err := newLogger(c.Pipeline.LogLvl, c.Pipeline.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.log = c, log
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pfeedback %s\n", Version)
		},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}
