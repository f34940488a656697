package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/prompt"
	"github.com/joss/clash/internal/render"
)

func modesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List conversation modes",
		Run: func(cmd *cobra.Command, args []string) {
			w := render.Stdout()
			w.Header("modes")
			for _, m := range prompt.Modes() {
				name := fmt.Sprintf("%-16s", m.Mode)
				if pretty {
					name = color.CyanString(name)
				}
				w.Item("%s %s", name, m.Description)
				w.SubItem("left: %s · right: %s", m.LeftRole, m.RightRole)
				if m.Convergent {
					w.SubItem("the last round gets a closing prompt")
				}
			}

			w.Section("agents")
			for _, a := range agent.All() {
				w.Item("%-12s %s", a.ID, a.URL)
			}
		},
	}
}

func personasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List persona presets (free text is accepted too)",
		Run: func(cmd *cobra.Command, args []string) {
			w := render.Stdout()
			w.Header("personas")
			for _, p := range prompt.Personas() {
				key := fmt.Sprintf("%-12s", p.Key)
				if pretty {
					key = color.CyanString(key)
				}
				w.Item("%s %s", key, p.Description)
			}
		},
	}
}
