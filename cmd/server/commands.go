package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nnsi/hono-practice-sub007/internal/config"
	"github.com/nnsi/hono-practice-sub007/internal/server/handlers"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg.Log)

			store, err := openStore(cmd.Context(), cfg.Storage, logger)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}

			token, expiresIn, err := handlers.GenerateAccessToken(handlers.JWTConfig{
				Secret:         []byte(cfg.Auth.Secret),
				AccessTokenTTL: tokenTTL(ttl, cfg),
			}, userID)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", time.Duration(expiresIn)*time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
