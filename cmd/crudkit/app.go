package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crudkit/internal/config"
	"crudkit/internal/logging"
)

// setup читает конфигурацию с учётом флагов команды и строит логгер.
func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
