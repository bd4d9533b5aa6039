package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"gastown/pkg/eventlog"
	"gastown/pkg/protocol"

	"github.com/spf13/cobra"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail      int
	follow    bool
	rigID     string
	beadID    string
	agentID   string
	eventType string
}

// newLogsCmd creates the "gastown logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query and tail the bead event log",
		Long:  "Displays events from the gastown event log.\nOptionally filter by rig, bead, agent, or event type and follow new events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			serverCfg, err := loadConfig(paths)
			if err != nil {
				return err
			}
			reader, err := eventlog.NewReader(serverCfg.DBPath)
			if err != nil {
				return err
			}
			defer reader.Close()

			opts := eventlog.QueryOpts{
				RigID:     cfg.rigID,
				BeadID:    cfg.beadID,
				AgentID:   cfg.agentID,
				EventType: cfg.eventType,
			}
			w := cmd.OutOrStdout()
			if cfg.follow {
				return followLogs(cmd.Context(), reader, w, opts, cfg.tail)
			}
			return printLogs(cmd.Context(), reader, w, opts, cfg.tail)
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")
	cmd.Flags().StringVar(&cfg.rigID, "rig", "", "filter by rig id")
	cmd.Flags().StringVar(&cfg.beadID, "bead", "", "filter by bead id")
	cmd.Flags().StringVar(&cfg.agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&cfg.eventType, "type", "", "filter by event type")
	return cmd
}

// printLogs displays the last N matching events.
func printLogs(ctx context.Context, reader *eventlog.Reader, w io.Writer, opts eventlog.QueryOpts, tail int) error {
	events, err := reader.Tail(ctx, opts, tail)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}
	for i := range events {
		formatEvent(w, &events[i])
	}
	return nil
}

// followLogs shows the initial tail, then polls for new events until
// the context is canceled.
func followLogs(ctx context.Context, reader *eventlog.Reader, w io.Writer, opts eventlog.QueryOpts, tail int) error {
	events, err := reader.Tail(ctx, opts, tail)
	if err != nil {
		return err
	}
	var lastTimestamp string
	for i := range events {
		formatEvent(w, &events[i])
		lastTimestamp = events[i].CreatedAt
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pollOpts := opts
			pollOpts.After = lastTimestamp
			pollOpts.Limit = 100
			newEvents, err := reader.Query(ctx, pollOpts)
			if err != nil {
				return err
			}
			for i := range newEvents {
				formatEvent(w, &newEvents[i])
				lastTimestamp = newEvents[i].CreatedAt
			}
		}
	}
}

// formatEvent writes one event as a single line.
func formatEvent(w io.Writer, e *protocol.BeadEvent) {
	line := fmt.Sprintf("%s  %-14s", e.CreatedAt, e.Type)
	if e.BeadID != "" {
		line += "  " + e.BeadID
	}
	if e.AgentID != "" {
		line += "  " + e.AgentID
	}
	if e.OldValue != "" || e.NewValue != "" {
		line += fmt.Sprintf("  %s -> %s", e.OldValue, e.NewValue)
	}
	fmt.Fprintln(w, line)
}
