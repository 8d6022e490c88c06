package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var (
	authEmail    string
	authPassword string
	authUsername string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the account service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := resolvePassword()
		if err != nil {
			return err
		}
		if authEmail == "" {
			return errors.New("--email is required")
		}
		return getApp().Login(cmd.Context(), authEmail, password)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session and return to the anonymous ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Logout(cmd.Context())
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the account service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := resolvePassword()
		if err != nil {
			return err
		}
		if authUsername == "" || authEmail == "" {
			return errors.New("--username and --email are required")
		}
		return getApp().Register(cmd.Context(), authUsername, authEmail, password)
	},
}

// resolvePassword prefers the flag and falls back to TUSCOIN_PASSWORD.
func resolvePassword() (string, error) {
	if authPassword != "" {
		return authPassword, nil
	}
	if env := os.Getenv("TUSCOIN_PASSWORD"); env != "" {
		return env, nil
	}
	return "", errors.New("--password or TUSCOIN_PASSWORD is required")
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVar(&authEmail, "email", "", "Account email")
		cmd.Flags().StringVar(&authPassword, "password", "", "Account password (or TUSCOIN_PASSWORD)")
	}
	registerCmd.Flags().StringVar(&authUsername, "username", "", "Display name")
}
