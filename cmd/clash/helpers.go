package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/joss/clash/internal/render"
	"github.com/joss/clash/internal/store"
)

// exitOnError prints err to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// terminalWidth returns the stdout width, or 80 when stdout is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func newRenderer() *render.Renderer {
	return render.New(pretty, terminalWidth())
}

// openStore opens the configured database.
func openStore() *store.SQLite {
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		exitOnError(err)
	}
	return st
}
