package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"storyweaver/internal/agent"
)

func newGenerateCommand(app *App) *cobra.Command {
	var (
		format string
		noSave bool
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate ideas and a complete story from a prompt",
		Long: `Run the story pipeline once: ideas, then the full story, then save it to the
configured store unless --no-save is given. Generation failures are shown in
place of the affected sections; they do not fail the command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			p, _, err := app.pipeline(ctx, !noSave)
			if err != nil {
				return err
			}
			state, err := p.Run(ctx, agent.Request{Prompt: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			if format == formatText {
				renderState(cmd.OutOrStdout(), state)
				return nil
			}
			return writeStructured(cmd.OutOrStdout(), format, state.Flatten())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist the generated story")
	return cmd
}
