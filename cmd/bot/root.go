package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "hatbot",
		Short: "Telegram assistant that answers to its wake-word",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Path to .env file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStatusCmd())

	return cmd
}
