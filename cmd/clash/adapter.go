package main

import (
	"context"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/browser"
	"github.com/joss/clash/internal/config"
	"github.com/joss/clash/internal/protocol"
	"github.com/joss/clash/internal/runtime"
)

// adapterCmd exposes one agent's adapter contract on stdin/stdout, so another
// process can drive it through protocol.AdapterClient.
func adapterCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:    "adapter",
		Short:  "Serve one agent's adapter over JSON lines on stdin/stdout",
		Hidden: true,
		Long: heredoc.Doc(`
			Open the agent's own page in the browser and answer IS_READY,
			SEND_MESSAGE, WAIT_FOR_RESPONSE, GET_LATEST_RESPONSE,
			GET_AVAILABLE_MODELS and SELECT_MODEL requests, one per line.
		`),
		Run: func(cmd *cobra.Command, args []string) {
			info, err := agent.Lookup(id)
			if err != nil {
				exitOnError(err)
			}

			shutdown := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
			shutdown.ListenForSignals()

			if cfg.Browser.UserDataDir != "" {
				if err := config.EnsureDir(cfg.Browser.UserDataDir); err != nil {
					exitOnError(err)
				}
			}
			b, err := browser.Open(context.Background(), cfg.Browser)
			if err != nil {
				exitOnError(err)
			}
			shutdown.RegisterCloser("browser", b.Close)

			ctx := shutdown.Context()
			page, err := b.Container(ctx, info.URL)
			if err != nil {
				shutdown.Shutdown()
				exitOnError(err)
			}
			a, err := browser.NewAdapter(info, page, browser.TimingFromConfig(cfg.Timing))
			if err != nil {
				shutdown.Shutdown()
				exitOnError(err)
			}

			err = protocol.ServeAdapter(ctx, a, os.Stdin, os.Stdout)
			interrupted := ctx.Err() != nil
			shutErr := shutdown.Shutdown()
			if err != nil && !interrupted {
				exitOnError(err)
			}
			if shutErr != nil {
				exitOnError(shutErr)
			}
		},
	}

	cmd.Flags().StringVar(&id, "agent", string(agent.DefaultLeft), "Agent to serve")
	return cmd
}
