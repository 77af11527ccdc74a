package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/xelth-com/posync/internal/utils"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a terminal",
	Long: `Issue a bearer token signed with the server's JWT_SECRET. The token
carries the organization, user and device the server scopes pushes to.

Example:
  posync-device token --org acme --device pos-1 --ttl 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("--secret or JWT_SECRET is required")
		}
		org, _ := cmd.Flags().GetString("org")
		if org == "" {
			return fmt.Errorf("--org is required")
		}
		user, _ := cmd.Flags().GetString("user")
		device, _ := cmd.Flags().GetString("device")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := utils.GenerateToken(utils.Claims{
			OrganizationID: org,
			UserID:         user,
			DeviceID:       device,
		}, secret, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", "", "signing secret (default $JWT_SECRET)")
	tokenCmd.Flags().String("org", "", "organization id")
	tokenCmd.Flags().String("user", "", "user id")
	tokenCmd.Flags().String("device", "", "device id")
	tokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
