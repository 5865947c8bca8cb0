// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"os"

	"github.com/relabs-tech/gps_tracker/internal/app"
	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/logger"
)

func main() {
	configPath := flag.String("config", "gps_tracker.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		logger.New(0).Error("failed to load config", "path", *configPath, logger.Err(err))
		os.Exit(1)
	}

	log := logger.New(config.Get().LogLevel)
	log.Info("starting gps tracker", "config", *configPath)

	if err := app.RunTracker(*configPath, log); err != nil {
		log.Error("fatal", logger.Err(err))
		os.Exit(1)
	}
}
