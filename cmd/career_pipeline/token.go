package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/career-pipeline/internal/server"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var userFlag string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for calling the API",
		Long:  `Token signs a JWT for the given user with the configured secret, for local testing of the REST and streaming endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := parseUserFlag(userFlag)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			jwtCfg, err := cfg.JWT()
			if err != nil {
				return err
			}
			token, err := server.NewJWTService(jwtCfg).GenerateToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "User id placed in the token (defaults to the local user)")
	return cmd
}
