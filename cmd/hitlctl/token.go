package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/hitl-control-plane/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(opts))
	return cmd
}

func newTokenIssueCmd(opts *rootOptions) *cobra.Command {
	var req auth.IssueRequest

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with AUTH_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("AUTH_JWT_SECRET is not set")
			}
			if req.Issuer == "" {
				req.Issuer = cfg.Auth.Issuer
			}

			token, err := auth.IssueToken(cfg.Auth.JWTSecret, req, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&req.Subject, "sub", "", "Subject, recorded as the actor")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&req.Roles, "role", nil, "Role ids (repeatable)")
	cmd.Flags().StringVar(&req.Issuer, "issuer", "", "Issuer (defaults to AUTH_JWT_ISSUER)")
	cmd.Flags().DurationVar(&req.TTL, "ttl", 12*time.Hour, "Lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
