// Package render formats debate state, transcripts and listings for the CLI.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/joss/clash/internal/domain"
)

// Writer prints the indented listings used by the history, modes and
// personas commands.
type Writer struct {
	out io.Writer
}

func NewWriter(out io.Writer) *Writer { return &Writer{out: out} }

func Stdout() *Writer { return NewWriter(os.Stdout) }

// at writes one line at the given nesting level (two spaces per level).
func (w *Writer) at(level int, format string, args []any) {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	fmt.Fprintf(w.out, "%s%s\n", strings.Repeat("  ", level), format)
}

func (w *Writer) Println(format string, args ...any) { w.at(0, format, args) }

// Header prints the title underlined to its own width.
func (w *Writer) Header(title string, args ...any) {
	if len(args) > 0 {
		title = fmt.Sprintf(title, args...)
	}
	fmt.Fprintf(w.out, "%s\n%s\n", title, strings.Repeat("─", utf8.RuneCountInString(title)))
}

func (w *Writer) Section(title string) { fmt.Fprintf(w.out, "\n%s:\n", title) }

func (w *Writer) Item(format string, args ...any) { w.at(1, format, args) }

func (w *Writer) SubItem(format string, args ...any) { w.at(2, format, args) }

func (w *Writer) Empty(msg string) { w.at(0, "(%s)", []any{msg}) }

var statusIcons = map[domain.Status]string{
	domain.StatusCompleted: "✓",
	domain.StatusError:     "✗",
	domain.StatusStopped:   "■",
	domain.StatusPreparing: "●",
	domain.StatusDebating:  "●",
}

// StatusIcon maps a session status to a one-rune marker.
func StatusIcon(s domain.Status) string {
	if icon, ok := statusIcons[s]; ok {
		return icon
	}
	return "·"
}

// Truncate cuts s to at most max runes, ending in "..." when there is room.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
