package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"machinery/internal/controller"
)

var (
	tokenOperator string
	tokenScopes   []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage operator API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for the controller API",
	Long: `Sign an operator token with the secret from the controller configuration.
Pass it to the API with "Authorization: Bearer <token>" or through
MACHINERY_TOKEN for the send and monitor commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := controller.LoadConfig(controllerConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if !config.API.Auth.Enabled {
			cmd.Printf("⚠ API auth is disabled in %s; the token will not be checked\n", controllerConfigPath)
		}

		for _, scope := range tokenScopes {
			if scope != controller.ScopeRead && scope != controller.ScopeCommand {
				return fmt.Errorf("unknown scope %q (want %s or %s)", scope, controller.ScopeRead, controller.ScopeCommand)
			}
		}

		token, err := controller.NewTokenService(config.API.Auth).IssueToken(tokenOperator, tokenScopes...)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		cmd.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.PersistentFlags().StringVarP(&controllerConfigPath, "config", "c", "controller.yml", "controller configuration file")
	tokenIssueCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator name recorded in the token")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{controller.ScopeRead}, "granted scopes (read, command)")
	tokenIssueCmd.MarkFlagRequired("operator")

	tokenCmd.AddCommand(tokenIssueCmd)
}
