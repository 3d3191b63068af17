package main

import (
	"errors"
	"fmt"
	"time"

	"chatgraph/auth"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local testing",
	Long:  `Signs a token with AUTH_JWT_SECRET so the API can be exercised with curl.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if config.AuthJWTSecret == "" {
			return errors.New("AUTH_JWT_SECRET is not set")
		}
		user, _ := cmd.Flags().GetString("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.NewJWTVerifier([]byte(config.AuthJWTSecret)).Generate(user, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "dev", "Subject of the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
