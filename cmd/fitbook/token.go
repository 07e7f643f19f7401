package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fitbook/backend/internal/auth"
	"fitbook/backend/internal/config"
	"fitbook/backend/internal/domain"
)

// newTokenCmd mints a bearer token signed with the configured secret, for
// local development against either transport.
func newTokenCmd(configFile *string) *cobra.Command {
	var (
		id    string
		roles []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("--id is required")
			}
			parsed := domain.ParseRoles(roles)
			if len(parsed) == 0 {
				return fmt.Errorf("--roles must include member or admin")
			}

			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
			if err != nil {
				return err
			}
			raw, err := tokens.Mint(domain.Requester{ID: strings.TrimSpace(id), Roles: parsed})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "subject (user id) of the token")
	cmd.Flags().StringSliceVar(&roles, "roles", []string{string(domain.RoleMember)}, "comma separated roles: member, admin")
	return cmd
}
