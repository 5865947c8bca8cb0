// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gps_tracker/internal/config"
	"github.com/relabs-tech/gps_tracker/internal/gps"
	"github.com/relabs-tech/gps_tracker/internal/logger"
)

// RunConsoleMQTT prints every fix the tracker mirrors to the broker until
// SIGINT or SIGTERM.
func RunConsoleMQTT(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ConsoleClientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Info("console: connected to MQTT broker", "broker", cfg.MQTT.Broker)

	token := client.Subscribe(cfg.MQTT.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		printFix(os.Stdout, msg.Payload(), log)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Info("console: subscribed", "topic", cfg.MQTT.Topic)

	<-ctx.Done()
	log.Info("console: shutting down")
	return nil
}

func printFix(w io.Writer, payload []byte, log *logger.Logger) {
	var f gps.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		log.Warn("console: gps unmarshal error", logger.Err(err))
		return
	}
	fmt.Fprintf(w, "[GPS ]  lat=%.6f lon=%.6f\n", f.Latitude, f.Longitude)
}
