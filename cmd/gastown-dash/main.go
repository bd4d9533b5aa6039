// Package main implements the gastown-dash town activity dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

func main() {
	var (
		robot  = flag.Bool("robot", false, "print a JSON snapshot and exit")
		townID = flag.String("town", os.Getenv("GASTOWN_TOWN_ID"), "town id to watch")
		apiURL = flag.String("api", os.Getenv("GASTOWN_API_URL"), "gastown API base URL")
		token  = flag.String("token", os.Getenv("GASTOWN_TOKEN"), "bearer token covering the town")
	)
	flag.Parse()

	if *townID == "" || *apiURL == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "gastown-dash: --town, --api, and --token are required (or GASTOWN_TOWN_ID, GASTOWN_API_URL, GASTOWN_TOKEN)")
		os.Exit(2)
	}

	src := newDataSource(*apiURL, *token, *townID)

	if *robot {
		if err := robotMode(os.Stdout, src); err != nil {
			fmt.Fprintf(os.Stderr, "gastown-dash: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "gastown-dash: stdout is not a terminal; use --robot for a JSON snapshot")
		os.Exit(2)
	}

	p := tea.NewProgram(newModel(src), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}

// robotMode writes one JSON snapshot of the town: its rigs and the
// latest feed page. Used by scripts and agents instead of the TUI.
func robotMode(w *os.File, src *dataSource) error {
	ctx := context.Background()
	rigs, err := src.fetchRigs(ctx)
	if err != nil {
		return err
	}
	page, err := src.fetchFeed(ctx, "", 0)
	if err != nil {
		return err
	}
	snapshot := map[string]any{
		"town_id": src.townID,
		"rigs":    rigs,
		"feed":    page,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}
