package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/joss/clash/internal/selftest"
)

func doctorCmd() *cobra.Command {
	var verbose, asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check environment health",
		Long: heredoc.Doc(`
			Diagnose the clash runtime environment.

			Checks:
			  - Browser binary, or the attached browser's control URL
			  - Profile directory for agent logins
			  - History database
			  - Orchestrator server (optional for 'clash run')
		`),
		Run: func(cmd *cobra.Command, args []string) {
			r := selftest.Check(cmd.Context(), selftest.Options{
				Config:    cfg,
				ServerURL: "http://" + serverAddr,
			})

			switch {
			case asJSON:
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(r)
			case verbose:
				fmt.Print(r.Summary())
			default:
				fmt.Println(r.QuickCheck())
			}

			if !r.IsHealthy() {
				if !verbose && !asJSON {
					fmt.Fprintln(os.Stderr, "\nRun 'clash doctor -v' for details.")
				}
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostics")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
