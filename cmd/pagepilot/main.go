package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pagepilot/internal/config"
	"pagepilot/internal/logging"
	"pagepilot/internal/workspace"
)

const appName = "pagepilot"

var (
	workspacePath string
	verbose       bool

	ws     *workspace.Workspace
	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Persona-driven landing page optimization",
	Long: `pagepilot runs a recurring decision pipeline over a landing page: analysis,
an optimizer/critic loop, a chain of approval gates, deployment and narration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspace.ResolveRoot(workspacePath)
		if err != nil {
			return err
		}
		ws = workspace.New(root)

		cfg, err = config.Load(ws.ConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := cfg.Log.Level
		if verbose {
			level = zapcore.DebugLevel.String()
		}
		logger, err = logging.New(level, cfg.Log.Format)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspacePath, "workspace", "w", ".", "Path to workspace root")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		initCmd,
		runCmd,
		runsCmd,
		mentionsCmd,
		growthCmd,
		daemonCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
