package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/peerdaemon/peerd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample peerd configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/peerd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  peerd init

  # Initialize with custom path
  peerd init --config /etc/peerd/config.yaml

  # Force overwrite existing config
  peerd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := config.Save(config.GetDefaultOptions(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set server.username and server.password")
	fmt.Println("  2. Start the daemon with: peerd start")
	return nil
}
