// Package cli implements the storyweaver command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "storyweaver",
		Short: "Generate short stories with an LLM and keep them in Notion",
		Long: `storyweaver turns a prompt into story ideas and a complete short story
(setting, characters, conflict, resolution and the story itself), and saves
the result to a Notion database or a local SQLite file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	root.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "config file (default: ./storyweaver.yaml or ./configs/storyweaver.yaml)")
	root.PersistentFlags().StringVar(&app.EnvFile, "env-file", app.EnvFile, "dotenv file loaded before the config")

	root.AddCommand(
		newGenerateCommand(app),
		newServeCommand(app),
		newStoriesCommand(app),
		newCheckCommand(app),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp()
	defer app.Close()
	if err := NewRootCommand(app).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
