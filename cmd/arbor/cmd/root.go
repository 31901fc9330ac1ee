package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/arbor/internal/config"
)

var (
	envFile string
	v       = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Arbor is a session-gated credential and attachment server",
	Long: `Arbor manages user accounts, encrypted per-user secrets and private
file attachments behind signed session cookies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnvFile(envFile)
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional file of ARBOR_* variables")
	rootCmd.PersistentFlags().String(config.KeyDataDir, config.DefaultDataDir, "Directory for persistent data")
	rootCmd.PersistentFlags().String(config.KeyStorage, config.StorageBolt, "Credential store backend: bbolt, postgres or memory")
	rootCmd.PersistentFlags().String(config.KeyPostgresDSN, "", "Postgres connection string for --storage=postgres")
	rootCmd.PersistentFlags().String(config.KeyLogLevel, config.DefaultLogLevel, "Log level: debug, info, warn or error")
	v.BindPFlags(rootCmd.PersistentFlags())
}
