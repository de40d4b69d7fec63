package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatlift/chatlift/internal/auth"
)

// newTokenCommand issues a tenant JWT locally from the shared signing
// secret, the same way the SaaS dashboard does.
func newTokenCommand() *cobra.Command {
	var (
		tenantID string
		secret   string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a tenant JWT from the shared signing secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenantID == "" || secret == "" {
				return errors.New("--tenant and --secret are required")
			}
			token, expiresAt, err := auth.GenerateToken(tenantID, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id the token is scoped to")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret shared with the engine")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
