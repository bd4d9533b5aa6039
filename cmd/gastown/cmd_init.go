package main

import (
	"context"
	"fmt"
	"os"

	"gastown/pkg/town"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// seedFile is the rigs.toml structure accepted by gastown init --rigs.
type seedFile struct {
	Towns []seedTown `toml:"towns"`
}

type seedTown struct {
	OwnerID string    `toml:"owner_id"`
	Name    string    `toml:"name"`
	Rigs    []seedRig `toml:"rigs"`
}

type seedRig struct {
	Name          string `toml:"name"`
	RepoURL       string `toml:"repo_url"`
	DefaultBranch string `toml:"default_branch"`
}

// newInitCmd creates the "gastown init" subcommand.
func newInitCmd() *cobra.Command {
	var rigsPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the gastown home directory, config, and database",
		Long:  "Creates ~/.gastown (or GASTOWN_HOME), writes config.yaml with a\nfresh signing key, and initializes the database schema.\nOptionally seeds towns and rigs from a TOML file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(paths.GastownHome, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", paths.GastownHome, err)
			}

			cfg, err := writeDefaultConfig(paths)
			if err != nil {
				return err
			}

			db, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := ensureSchema(db); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s\n", paths.ConfigPath)
			fmt.Fprintf(out, "initialized %s\n", cfg.DBPath)

			if rigsPath == "" {
				return nil
			}
			seeded, err := seedFromTOML(cmd.Context(), town.NewRegistry(db), rigsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "seeded %d town(s), %d rig(s) from %s\n", seeded.towns, seeded.rigs, rigsPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&rigsPath, "rigs", "", "TOML file of towns and rigs to seed")
	return cmd
}

type seedCounts struct {
	towns, rigs int
}

// seedFromTOML creates the towns and rigs described in a rigs.toml file.
func seedFromTOML(ctx context.Context, registry *town.Registry, path string) (seedCounts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seedCounts{}, fmt.Errorf("read seed file %s: %w", path, err)
	}
	var seed seedFile
	if err := toml.Unmarshal(data, &seed); err != nil {
		return seedCounts{}, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	var counts seedCounts
	for _, st := range seed.Towns {
		tn, err := registry.CreateTown(ctx, st.OwnerID, st.Name)
		if err != nil {
			return counts, fmt.Errorf("seed town %q: %w", st.Name, err)
		}
		counts.towns++
		for _, sr := range st.Rigs {
			if _, err := registry.CreateRig(ctx, tn.ID, sr.Name, sr.RepoURL, sr.DefaultBranch); err != nil {
				return counts, fmt.Errorf("seed rig %q in town %q: %w", sr.Name, st.Name, err)
			}
			counts.rigs++
		}
	}
	return counts, nil
}
