// ABOUTME: token subcommand that mints API bearer tokens from the configured secret
// ABOUTME: The token goes to stdout alone so it can be captured by scripts

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-notifier/internal/auth"
	"github.com/2389/coven-notifier/internal/config"
)

const defaultTokenTTL = 30 * 24 * time.Hour

func newTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token for the notification API",
		Long: `Mint an HS256 bearer token signed with api.jwt_secret.

The subject names the caller in the server logs. Pass the token to
notify and notifications with --token or COVEN_NOTIFIER_TOKEN.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mintToken(*configPath, args[0], ttl)
			if err != nil {
				return err
			}
			gray := color.New(color.FgHiBlack)
			gray.Fprintf(cmd.ErrOrStderr(), "  subject %s, expires %s\n",
				args[0], time.Now().Add(ttl).Local().Format(time.DateTime))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	return cmd
}

func mintToken(configPath, subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.JWTSecret == "" {
		return "", errors.New("api.jwt_secret is not set; the API accepts requests without a token")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.API.JWTSecret))
	if err != nil {
		return "", err
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}
