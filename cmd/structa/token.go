package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	appMiddleware "github.com/markdave123-py/Structa/internal/api/middlewares"
)

func newTokenCommand(c *cli) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := appMiddleware.GenerateToken(c.cfg.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "who the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 72*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
