package cli

import (
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/spf13/cobra"

	"storyweaver/internal/llm"
	"storyweaver/internal/server"
	"storyweaver/internal/tools"
)

func newServeCommand(app *App) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the story API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, st, err := app.pipeline(ctx, true)
			if err != nil {
				return err
			}

			toolset := []einotool.InvokableTool{tools.NewStoryTool(p)}
			if st != nil {
				toolset = append(toolset, tools.NewSearchTool(st))
			}

			cfg := app.Config.Server
			if addr != "" {
				cfg.Addr = addr
			}
			srv, err := server.New(ctx, cfg, server.Deps{
				Pipeline: p,
				Store:    st,
				Tools:    toolset,
				Info: map[string]any{
					"name":     app.Config.App.Name,
					"version":  app.Config.App.Version,
					"api_type": app.Config.LLM.APIType,
					"model":    llm.ModelName(app.Config.LLM),
					"store":    app.Config.Store.Backend,
				},
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
