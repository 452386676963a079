package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"storyweaver/internal/model"
	"storyweaver/internal/store"
)

func newStoriesCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stories",
		Aliases: []string{"story"},
		Short:   "Manage saved stories",
	}
	cmd.AddCommand(
		newStoriesListCommand(app),
		newStoriesSearchCommand(app),
		newStoriesViewCommand(app),
		newStoriesStatusCommand(app),
		newStoriesDeleteCommand(app),
	)
	return cmd
}

func newStoriesListCommand(app *App) *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return queryStories(cmd, app, "", limit, format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultLimit, "maximum number of stories")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	return cmd
}

func newStoriesSearchCommand(app *App) *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stories by title, setting or characters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return queryStories(cmd, app, strings.Join(args, " "), limit, format)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultLimit, "maximum number of stories")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	return cmd
}

func queryStories(cmd *cobra.Command, app *App, query string, limit int, format string) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	st, err := app.requireStore()
	if err != nil {
		return err
	}
	recs, err := st.Query(cmd.Context(), store.Filter{Text: query}, limit)
	if err != nil {
		return err
	}
	if format != formatText {
		if recs == nil {
			recs = []store.Record{}
		}
		return writeStructured(cmd.OutOrStdout(), format, recs)
	}
	renderRecords(cmd.OutOrStdout(), recs)
	return nil
}

func newStoriesViewCommand(app *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "view <page-id>",
		Short: "Show one story with its ideas and full text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			st, err := app.requireStore()
			if err != nil {
				return err
			}
			rec, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format != formatText {
				return writeStructured(cmd.OutOrStdout(), format, rec)
			}
			renderRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	return cmd
}

func newStoriesStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <page-id> <Generated|Draft|Published>",
		Short: "Change the status of a story",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := model.ParseStatus(args[1])
			if err != nil {
				return err
			}
			st, err := app.requireStore()
			if err != nil {
				return err
			}
			if err := st.UpdateStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s status set to %s\n", args[0], status)
			return nil
		},
	}
}

func newStoriesDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <page-id>",
		Aliases: []string{"archive"},
		Short:   "Archive a story",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.requireStore()
			if err != nil {
				return err
			}
			if err := st.Archive(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s archived\n", args[0])
			return nil
		},
	}
}
