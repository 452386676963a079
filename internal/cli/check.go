package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"storyweaver/internal/prompt"
)

type checkResult struct {
	name   string
	detail string
	err    error
}

func newCheckCommand(app *App) *cobra.Command {
	var skipLLM bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the LLM backend and the story store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]checkResult, 2)
			g, ctx := errgroup.WithContext(cmd.Context())

			g.Go(func() error {
				results[0] = checkLLM(ctx, app, skipLLM)
				return nil
			})
			g.Go(func() error {
				results[1] = checkStore(ctx, app)
				return nil
			})
			_ = g.Wait()

			var failed []error
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.err != nil {
					fmt.Fprintf(out, "%s %s: %v\n", errorStyle.Render("FAIL"), r.name, r.err)
					failed = append(failed, fmt.Errorf("%s: %w", r.name, r.err))
					continue
				}
				fmt.Fprintf(out, "%s %s %s\n", labelStyle.Render("OK  "), r.name, detailStyle.Render(r.detail))
			}
			return errors.Join(failed...)
		},
	}
	cmd.Flags().BoolVar(&skipLLM, "skip-llm", false, "only validate the LLM config, do not send a request")
	return cmd
}

func checkLLM(ctx context.Context, app *App, skipRequest bool) checkResult {
	r := checkResult{name: "llm (" + app.Config.LLM.APIType + ")"}
	c, err := app.NewCompleter(ctx, app.Config.LLM)
	if err != nil {
		r.err = err
		return r
	}
	if skipRequest {
		r.detail = "config valid"
		return r
	}
	comp, err := c.Complete(ctx, prompt.IdeaV1, map[string]any{"user_input": "a connectivity check"})
	if err != nil {
		r.err = err
		return r
	}
	r.detail = fmt.Sprintf("%d chars, finish reason %q", len(comp.Text), comp.FinishReason)
	return r
}

func checkStore(ctx context.Context, app *App) checkResult {
	r := checkResult{name: "store (" + app.Config.Store.Backend + ")"}
	st, err := app.store()
	if err != nil {
		r.err = err
		return r
	}
	if st == nil {
		r.detail = "persistence disabled"
		return r
	}
	if err := st.Ping(ctx); err != nil {
		r.err = err
		return r
	}
	r.detail = "reachable"
	return r
}
