package main

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/z-wentao/vocalflow/pkg/config"
)

func newConfigCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			// 不打印密钥
			if cfg.Transcriber.APIKey != "" {
				cfg.Transcriber.APIKey = "***"
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("序列化配置失败: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
