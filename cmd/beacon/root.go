package main

import (
	"errors"
	"io/fs"

	"beacon/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envPath    string
)

var rootCmd = &cobra.Command{
	Use:           "beacon",
	Short:         "Autonomous social agent that schedules posts, replies and engagement on X.",
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./beacon.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(initCmd, loginCmd, runCmd, thinkCmd, statusCmd)
}

// loadConfig reads the dotenv file, then the config file. A missing file of
// either kind is not an error; defaults and the environment fill in.
func loadConfig() (config.Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, err
	}
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		cfg.ResolveEnv()
		return cfg, nil
	}
	return cfg, err
}
