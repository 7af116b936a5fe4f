// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/KhiopsML/khiops-parallel/pkg/config"
	"github.com/KhiopsML/khiops-parallel/pkg/logging"
)

const driverVersion = "1.0.0"

var (
	configPath string

	cfg    *config.RuntimeConfig
	logger logging.Logger
)

var rootCmd = &cobra.Command{
	Use:           "khiops-task-driver",
	Short:         "Coordinator/worker driver for the parallel task framework",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger = logging.NewLogger(&logging.Config{
			Level:     parseLevel(cfg.LogLevel),
			Format:    logging.Format(cfg.LogFormat),
			Output:    os.Stderr,
			Component: "driver",
			Version:   driverVersion,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to khiops.yaml (default: search working directory)")
	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
