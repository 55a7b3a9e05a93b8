// Package mqtt publishes frames to an MQTT broker.
package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultServer   = "tcp://localhost:1883"
	DefaultClientID = "magmux"
	DefaultTopic    = "magmux/readings"
	disconnectWait  = 250
)

type Config struct {
	Server   string `yaml:"server"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
	// Timeout bounds a single publish; zero waits forever.
	Timeout time.Duration `yaml:"timeout"`
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	client  publisher
	topic   string
	qos     byte
	retain  bool
	timeout time.Duration
}

// Connect dials the broker and returns a sink publishing every frame to cfg.Topic.
func Connect(cfg Config) (*Publisher, error) {
	cfg = withDefaults(cfg)
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newPublisher(client, cfg), nil
}

func newPublisher(client publisher, cfg Config) *Publisher {
	cfg = withDefaults(cfg)
	return &Publisher{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: cfg.Timeout,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return cfg
}

// Write publishes p as one message. The payload is copied because paho may
// send it after Write returns.
func (p *Publisher) Write(b []byte) (int, error) {
	payload := make([]byte, len(b))
	copy(payload, b)
	token := p.client.Publish(p.topic, p.qos, p.retain, payload)
	if p.timeout > 0 {
		if !token.WaitTimeout(p.timeout) {
			return 0, fmt.Errorf("mqtt publish to %s timed out", p.topic)
		}
	} else {
		token.Wait()
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("mqtt publish to %s: %w", p.topic, err)
	}
	return len(b), nil
}

func (p *Publisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(disconnectWait)
	}
	return nil
}
