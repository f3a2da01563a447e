package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fleetops/driver-ledger/internal/pkg/jwt"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("role", jwt.RoleFleetManager, "Role: admin, fleet_manager or driver")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to JWT_ACCESS_TTL)")
}

var tokenCmd = &cobra.Command{
	Use:   "token [USER_ID]",
	Short: "Mint an access token",
	Long:  `Mint a signed access token with JWT_SECRET. A random user id is used when none is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	return mintToken(cmd, cfg.JWTSecret, ttlOrDefault(ttl, cfg.JWTAccessTTL), role, args)
}

func ttlOrDefault(ttl, def time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return def
}

func mintToken(cmd *cobra.Command, secret string, ttl time.Duration, role string, args []string) error {
	if !jwt.ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	userID := uuid.New()
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		userID = id
	}

	tok, err := jwt.NewService(secret, ttl).GenerateAccessToken(userID, role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
