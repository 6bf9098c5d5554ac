package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/turbocache/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample turbocache configuration file with an in-memory
CAS/AC store pair and no scheduler backend configured.

By default, the configuration file is created at
$XDG_CONFIG_HOME/turbocache/config.yaml. Use --config to specify a custom
path.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error
	if configFile != "" {
		configPath = configFile
		err = config.InitConfigToPath(configFile, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to describe your store tree and scheduler backend")
	fmt.Println("  2. Start the scheduler/cache server with: turbocache serve")
	fmt.Println("  3. Start a worker with: turbocache worker")
	return nil
}
