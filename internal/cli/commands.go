package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/carrierhub/provisioner/internal/common/logtrace"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	configFile string
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

// DefaultConfigFile is used when neither --config nor PROVISIONER_CONFIG is set.
const DefaultConfigFile = "/etc/provisioner/provisioner.toml"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provisioner [command] [flags]",
		Short: "Provisioner - project lifecycle and usage accounting service",
		Long: `Provisioner creates and deletes tenant projects across the database,
secrets store, message broker and identity provider, and records resource
usage of test runs and tasks.

Examples:
  # Run the HTTP service
  provisioner serve --config provisioner.toml

  # Apply database migrations
  provisioner migrate up

  # Create a project from the command line
  provisioner project create --name demo --admin-email admin@example.com --owner 1

  # Delete a project
  provisioner project delete 12`,
		PersistentPreRunE: preRunHandlePersistents,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file")
	cmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newProjectCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(map[string]string{"error": err.Error()})
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	if p := os.Getenv("PROVISIONER_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigFile
}

// preRunHandlePersistents loads the configuration and initializes logging for
// every command but version.
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "version" {
			return nil
		}
	}
	c, err := config.LoadConfig(configPath())
	if err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	logtrace.InitLogger(c.LogLevel)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of the provisioner",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version":     config.ServerVersion,
					"api_version": config.APIVersion,
				})
				return
			}
			cmd.Printf("provisioner %s (api %s)\n", config.ServerVersion, config.APIVersion)
		},
	}
}

func printJSON(data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}
