// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"time"

	"beatzero/internal/config"
	"beatzero/internal/frame"
	applog "beatzero/internal/log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishWait    = time.Second
	disconnectWait = 250 // milliseconds
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes every frame as a JSON record on the frame topic.
// The retained status topic carries "online" while connected, the terminal
// status at the end of the stream, and "offline" as the broker-sent will if
// the connection is lost.
type MQTTPublisher struct {
	cfg    config.MQTTConfig
	client mqttClient
	sent   uint64
	logger *applog.Logger
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	logger := applog.New("MQTT")

	will, err := frame.EncodePresence(false)
	if err != nil {
		return nil, err
	}
	online, err := frame.EncodePresence(true)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetBinaryWill(cfg.StatusTopic, will, cfg.QoS, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Infof("Connected to %s", cfg.Broker)
		c.Publish(cfg.StatusTopic, cfg.QoS, true, online)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(cfg, client, logger), nil
}

func newMQTTPublisher(cfg config.MQTTConfig, client mqttClient, logger *applog.Logger) *MQTTPublisher {
	logger.Infof("Publishing frames to %s (qos %d)", cfg.Topic, cfg.QoS)
	return &MQTTPublisher{cfg: cfg, client: client, logger: logger}
}

// Receive publishes f. With QoS above 0 it waits for the broker.
func (p *MQTTPublisher) Receive(f frame.AnalysisFrame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, data)
	if p.cfg.QoS > 0 {
		if err := wait(token); err != nil {
			return err
		}
	}
	p.sent++
	return nil
}

// Finish replaces the retained presence with the terminal status.
func (p *MQTTPublisher) Finish(status error) error {
	data, err := frame.EncodeStatus(status)
	if err != nil {
		return err
	}
	p.logger.Infof("Stream ended after %d messages", p.sent)
	return wait(p.client.Publish(p.cfg.StatusTopic, p.cfg.QoS, true, data))
}

// Close disconnects cleanly, so the broker does not send the will.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(disconnectWait)
	return nil
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishWait) {
		return ErrPublishTimeout
	}
	return token.Error()
}

var _ Transport = (*MQTTPublisher)(nil)
