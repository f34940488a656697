// Package main provides the clash CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/clash/internal/config"
	"github.com/joss/clash/internal/logging"
)

var (
	version    = "0.1.0"
	pretty     = true
	configFile string
	serverAddr string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clash",
		Short: "clash - two chat agents, one topic",
		Long: `clash drives two chat web UIs side by side through a browser and
runs a turn-based exchange between them (debate, interview, roast, ...).

Start the orchestrator with 'clash serve', then drive it with run/attach/stop.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !cmd.Flags().Changed("pretty") {
				pretty = term.IsTerminal(int(os.Stdout.Fd()))
			}

			v := config.NewViper(configFile)
			loaded, err := config.Load(v)
			if err != nil {
				exitOnError(err)
			}
			cfg = loaded

			logging.Configure(logging.Options{
				Level: logging.Level(cfg.Log.Level),
				JSON:  cfg.Log.JSON,
			})

			if serverAddr == "" {
				serverAddr = cfg.Server.Addr
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.GetPaths().ConfigFile, "Config file")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Colored output (default: on for terminals)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Orchestrator address (default: server.addr)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Session Commands:"},
		&cobra.Group{ID: "history", Title: "History Commands:"},
		&cobra.Group{ID: "infra", Title: "Infrastructure Commands:"},
	)

	// Infrastructure commands
	serve := serveCmd()
	serve.GroupID = "infra"
	rootCmd.AddCommand(serve)

	adapter := adapterCmd()
	adapter.GroupID = "infra"
	rootCmd.AddCommand(adapter)

	doctor := doctorCmd()
	doctor.GroupID = "infra"
	rootCmd.AddCommand(doctor)

	// Session commands
	for _, c := range []*cobra.Command{
		runCmd(),
		remoteRunCmd(),
		attachCmd(),
		statusCmd(),
		stopCmd(),
		continueCmd(),
		preloadCmd(),
		resetCmd(),
	} {
		c.GroupID = "session"
		rootCmd.AddCommand(c)
	}

	// History commands
	hist := historyCmd()
	hist.GroupID = "history"
	rootCmd.AddCommand(hist)

	// Ungrouped
	rootCmd.AddCommand(modesCmd())
	rootCmd.AddCommand(personasCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clash %s\n", version)
		},
	}
}
