package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"prism-board/api"
)

// tokenCmd signs tokens for servers running with AUTH0_TEST_MODE=1.
func (a *app) tokenCmd() *cobra.Command {
	var (
		audience string
		issuer   string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a test-mode bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := a.v.GetString("test_jwt_secret")
			if secret == "" {
				return errors.New("TEST_JWT_SECRET must be set")
			}
			tok, err := api.SignTestToken([]byte(secret), args[0], audience, issuer, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&audience, "audience", "", "aud claim, matching AUTH0_AUDIENCE")
	cmd.Flags().StringVar(&issuer, "issuer", "", "iss claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().String("secret", "", "HS256 secret (default $TEST_JWT_SECRET)")
	_ = a.v.BindPFlag("test_jwt_secret", cmd.Flags().Lookup("secret"))
	_ = a.v.BindEnv("test_jwt_secret", "TEST_JWT_SECRET")
	return cmd
}
