package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirrorbuddy/reliability/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.SigningKey == "" {
				return errors.New("auth.signing_key is not set")
			}

			tokens := auth.NewTokenService(auth.TokenConfig{
				SigningKey: cfg.Auth.SigningKey,
				Issuer:     cfg.Auth.Issuer,
			})
			token, expiresAt, err := tokens.GenerateToken(subject, auth.Role(role), ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded on changes (required)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "token role: viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenExpiry, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
