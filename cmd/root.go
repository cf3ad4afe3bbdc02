package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/pillarctl/internal/log"
	"github.com/agentic-research/pillarctl/internal/pillar"
)

var (
	pillarDir string
	logLevel  string
	logFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&pillarDir, "pillar-dir", pillar.DefaultRoot, "Pillar directory holding proposals/ and stack/")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", log.FormatConsole, "Log format (console, json)")
}

var rootCmd = &cobra.Command{
	Use:           "pillarctl",
	Short:         "Assemble the Ceph Salt pillar and run cluster diagnostics",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := log.New(logLevel, logFormat)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		ctx := log.WithLogger(cmd.Context(), logger)
		cmd.SetContext(log.WithFields(ctx, zap.String("command", cmd.CommandPath())))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// logger returns the command logger set up by the root command.
func logger(cmd *cobra.Command) *zap.Logger {
	return log.LoggerFromContext(cmd.Context(), zap.L())
}

// printYAML writes v as a YAML document with sorted keys.
func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
