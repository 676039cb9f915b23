package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a configuration file with default values to the default location
(or the path given with --config). Edit it afterwards to add the Discord bot
token, the channel id and the JWT secret.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return err
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set blob.token and blob.channel_id to your Discord bot and channel")
	fmt.Println("  2. Set auth.jwt_secret to the secret your identity provider signs with")
	fmt.Println("  3. Start the server with: ddrive start")
	return nil
}
