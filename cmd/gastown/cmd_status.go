package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "gastown status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the database: towns, rigs, beads, open escalations",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(paths)
			if err != nil {
				return err
			}
			db, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			summary, err := collectStatus(cmd.Context(), db)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "towns:            %d\n", summary.Towns)
			fmt.Fprintf(out, "rigs (active):    %d\n", summary.ActiveRigs)
			fmt.Fprintf(out, "beads open:       %d\n", summary.OpenBeads)
			fmt.Fprintf(out, "beads in flight:  %d\n", summary.InProgressBeads)
			fmt.Fprintf(out, "beads closed:     %d\n", summary.ClosedBeads)
			fmt.Fprintf(out, "escalations open: %d\n", summary.OpenEscalations)
			fmt.Fprintf(out, "reviews pending:  %d\n", summary.PendingReviews)
			return nil
		},
	}
}

// StatusSummary holds the row counts printed by "gastown status".
type StatusSummary struct {
	Towns           int
	ActiveRigs      int
	OpenBeads       int
	InProgressBeads int
	ClosedBeads     int
	OpenEscalations int
	PendingReviews  int
}

func collectStatus(ctx context.Context, db *sql.DB) (*StatusSummary, error) {
	var s StatusSummary
	counts := []struct {
		dst   *int
		query string
	}{
		{&s.Towns, `SELECT COUNT(*) FROM towns`},
		{&s.ActiveRigs, `SELECT COUNT(*) FROM rigs WHERE state = 'active'`},
		{&s.OpenBeads, `SELECT COUNT(*) FROM beads WHERE status = 'open'`},
		{&s.InProgressBeads, `SELECT COUNT(*) FROM beads WHERE status = 'in_progress'`},
		{&s.ClosedBeads, `SELECT COUNT(*) FROM beads WHERE status = 'closed'`},
		{&s.OpenEscalations, `SELECT COUNT(*) FROM escalations WHERE acknowledged = 0`},
		{&s.PendingReviews, `SELECT COUNT(*) FROM review_queue WHERE status IN ('pending', 'running')`},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("count query %q: %w", c.query, err)
		}
	}
	return &s, nil
}
