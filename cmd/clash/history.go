package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/joss/clash/internal/agent"
	"github.com/joss/clash/internal/backup"
	"github.com/joss/clash/internal/config"
	"github.com/joss/clash/internal/domain"
	"github.com/joss/clash/internal/render"
	"github.com/joss/clash/internal/store"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Browse finished sessions",
	}

	cmd.AddCommand(historyListCmd())
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyExportCmd())
	cmd.AddCommand(historyDeleteCmd())
	cmd.AddCommand(historyBackupCmd())
	cmd.AddCommand(historyRestoreCmd())
	return cmd
}

func historyListCmd() *cobra.Command {
	var limit, offset int
	var mode, status, left, right string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finished sessions, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			filter := store.DefaultFilter().WithLimit(limit).WithOffset(offset)
			for field, value := range map[string]string{
				"mode":        mode,
				"status":      status,
				"left_agent":  left,
				"right_agent": right,
			} {
				if value != "" {
					filter = filter.WithWhere(field, value)
				}
			}

			entries, err := st.ListHistory(cmd.Context(), filter)
			if err != nil {
				exitOnError(err)
			}

			w := render.Stdout()
			if len(entries) == 0 {
				w.Empty("no sessions yet")
				return
			}
			w.Header("history (%d)", len(entries))
			for _, e := range entries {
				w.Item("%s %s  %s", render.StatusIcon(e.Status), e.ID, render.Truncate(e.Topic, 60))
				w.SubItem("%s vs %s · %s · %d rounds · %s · %s",
					agent.Name(e.Left), agent.Name(e.Right), e.Mode, e.Rounds,
					statusLine(e.Status, e.EndReason), e.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip the newest N entries")
	cmd.Flags().StringVar(&mode, "mode", "", "Only this mode")
	cmd.Flags().StringVar(&status, "status", "", "Only this final status")
	cmd.Flags().StringVar(&left, "left", "", "Only this left agent")
	cmd.Flags().StringVar(&right, "right", "", "Only this right agent")
	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one session's transcript",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			e := loadEntry(cmd, args[0])

			r := newRenderer()
			w := render.Stdout()
			w.Header("%s", e.Topic)
			w.Item("%s vs %s · %s · %s", agent.Name(e.Left), agent.Name(e.Right), e.Mode, statusLine(e.Status, e.EndReason))
			w.Println("")
			fmt.Print(r.Transcript(e.Transcript))
		},
	}
}

func historyExportCmd() *cobra.Command {
	var format, output string
	var toClipboard bool

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a transcript as markdown, json or yaml",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f, err := render.ParseFormat(format)
			if err != nil {
				exitOnError(err)
			}
			e := loadEntry(cmd, args[0])

			var buf bytes.Buffer
			if err := render.Export(&buf, *e, f); err != nil {
				exitOnError(err)
			}

			switch {
			case toClipboard:
				if err := clipboard.WriteAll(buf.String()); err != nil {
					exitOnError(fmt.Errorf("clipboard: %w", err))
				}
				fmt.Fprintln(os.Stderr, "copied to clipboard")
			case output == "-":
				os.Stdout.Write(buf.Bytes())
			default:
				path := output
				if path == "" {
					path = filepath.Join(config.GetPaths().Exports, fmt.Sprintf("%s.%s", e.ID, f))
				}
				if err := config.EnsureDir(filepath.Dir(path)); err != nil {
					exitOnError(err)
				}
				if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
					exitOnError(err)
				}
				fmt.Println(path)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "md", "Export format: md, json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, '-' for stdout (default: exports dir)")
	cmd.Flags().BoolVar(&toClipboard, "clipboard", false, "Copy to the clipboard instead of writing a file")
	return cmd
}

func historyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a finished session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			if err := st.DeleteHistory(cmd.Context(), args[0]); err != nil {
				exitOnError(err)
			}
			fmt.Printf("deleted %s\n", args[0])
		},
	}
}

func historyBackupCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "backup [file]",
		Short: "Archive all finished sessions to a tar.gz",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := filepath.Join(config.GetPaths().Exports, fmt.Sprintf("clash-%s.tar.gz", time.Now().Format("20060102-150405")))
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.EnsureDir(filepath.Dir(path)); err != nil {
				exitOnError(err)
			}

			st := openStore()
			defer st.Close()

			meta, err := backup.NewManager(st).Export(cmd.Context(), path, description)
			if err != nil {
				exitOnError(err)
			}
			fmt.Printf("%s (%d sessions)\n", path, meta.Count)
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Note stored in the archive")
	return cmd
}

func historyRestoreCmd() *cobra.Command {
	var replace, list bool

	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore finished sessions from a backup archive",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if list {
				meta, err := backup.List(args[0])
				if err != nil {
					exitOnError(err)
				}
				w := render.Stdout()
				w.Header("backup %s", args[0])
				w.Item("created: %s", meta.CreatedAt.Local().Format("2006-01-02 15:04"))
				w.Item("sessions: %d", meta.Count)
				if meta.Description != "" {
					w.Item("note: %s", meta.Description)
				}
				return
			}

			st := openStore()
			defer st.Close()

			meta, err := backup.NewManager(st).Import(cmd.Context(), args[0], !replace)
			if err != nil {
				exitOnError(err)
			}
			fmt.Printf("restored %d sessions\n", meta.Count)
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "Delete sessions that are not in the archive")
	cmd.Flags().BoolVar(&list, "list", false, "Only show the archive's metadata")
	return cmd
}

func loadEntry(cmd *cobra.Command, id string) *domain.HistoryEntry {
	st := openStore()
	defer st.Close()

	e, err := st.GetHistory(cmd.Context(), id)
	if err != nil {
		if store.IsNotFound(err) {
			exitOnError(fmt.Errorf("no session %q (see 'clash history list')", id))
		}
		exitOnError(err)
	}
	return e
}

func statusLine(s domain.Status, reason domain.EndReason) string {
	if reason == "" {
		return string(s)
	}
	return fmt.Sprintf("%s (%s)", s, reason)
}
