package main

import (
	"fmt"
	"time"

	"gastown/pkg/authtoken"

	"github.com/spf13/cobra"
)

// newTokenCmd creates the "gastown token" subcommand.
func newTokenCmd() *cobra.Command {
	var (
		townID  string
		rigID   string
		agentID string
		ttl     time.Duration
		admin   bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a scoped API token",
		Long:  "Mints a bearer token signed with the server's key.\nAgent tokens need --town, --rig, and --agent. Operator tokens use --admin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(paths)
			if err != nil {
				return err
			}
			key, err := cfg.signingKey()
			if err != nil {
				return err
			}

			scope := authtoken.Scope{TownID: townID, RigID: rigID, AgentID: agentID}
			if admin {
				scope = authtoken.Scope{TownID: authtoken.TownWildcard}
			}
			token, err := authtoken.Mint(key, scope, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&townID, "town", "", "town id the token is scoped to")
	cmd.Flags().StringVar(&rigID, "rig", "", "rig id the token is scoped to")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id the token acts as")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&admin, "admin", false, "mint an operator token covering every town")
	return cmd
}
