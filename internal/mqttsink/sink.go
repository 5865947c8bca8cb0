// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttsink republishes accepted fixes on an MQTT topic.
package mqttsink

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gps_tracker/internal/gps"
)

const (
	publishTimeout = 5 * time.Second
	disconnectWait = 250 // ms
)

var ErrPublishTimeout = errors.New("mqtt: publish timed out")

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Sink is a broadcast subscriber that publishes every fix it receives as
// a retained JSON message, so late MQTT subscribers also get the last fix.
type Sink struct {
	pub   Publisher
	topic string
	done  func()
}

// New wraps an already connected publisher.
func New(pub Publisher, topic string) *Sink {
	return &Sink{pub: pub, topic: topic}
}

// Connect dials broker and returns a Sink that disconnects the client on
// Close.
func Connect(broker, clientID, topic string) (*Sink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}

	s := New(client, topic)
	s.done = func() { client.Disconnect(disconnectWait) }
	return s, nil
}

// Topic returns the topic fixes are published on.
func (s *Sink) Topic() string {
	return s.topic
}

// Send publishes fix at QoS 0.
func (s *Sink) Send(fix gps.Fix) error {
	payload, err := json.Marshal(fix)
	if err != nil {
		return err
	}
	token := s.pub.Publish(s.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Close disconnects the client if the sink owns it.
func (s *Sink) Close() error {
	if s.done != nil {
		s.done()
		s.done = nil
	}
	return nil
}
