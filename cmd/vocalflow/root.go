package main

import (
	"github.com/spf13/cobra"

	"github.com/z-wentao/vocalflow/pkg/config"
)

const defaultConfigPath = "config/config.yaml"

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "vocalflow",
		Short:         "VocalFlow audio transcription service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", defaultConfigPath, "Configuration file path")

	load := func() (*config.Config, error) {
		return config.LoadConfig(configFlag)
	}

	rootCmd.AddCommand(newServeCommand(load))
	rootCmd.AddCommand(newProcessCommand(load))
	rootCmd.AddCommand(newConfigCommand(load))

	return rootCmd
}
