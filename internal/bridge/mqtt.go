// Package bridge connects the event loop to an MQTT broker.
//
// Lines published on the command topic are passed to the motion device,
// every device line is published on the output topic, and tracker
// snapshots are published retained on the state topic.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/unklstewy/heliostat/internal/app"
	"github.com/unklstewy/heliostat/pkg/config"
	"github.com/unklstewy/heliostat/pkg/tracker"
)

// Client is the part of mqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Submitter accepts operator actions.
type Submitter interface {
	Submit(ctx context.Context, a app.Action) error
}

// Connect opens a client session with the configured broker.
func Connect(cfg config.MQTTConfig, logger *log.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Printf("[mqtt] connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	logger.Printf("[mqtt] connected to broker at %s", cfg.Broker)
	return client, nil
}

// Bridge relays between the broker and the event loop.
type Bridge struct {
	client Client
	cfg    config.MQTTConfig
	ctrl   Submitter
	logger *log.Logger

	lastState []byte
}

// New creates a bridge. Start must be called to receive commands.
func New(client Client, cfg config.MQTTConfig, ctrl Submitter, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{client: client, cfg: cfg, ctrl: ctrl, logger: logger}
}

// Start subscribes to the command topic. Commands are submitted with ctx.
func (b *Bridge) Start(ctx context.Context) error {
	token := b.client.Subscribe(b.cfg.CommandTopic, b.qos(), func(_ mqtt.Client, msg mqtt.Message) {
		b.handleCommand(ctx, msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.cfg.CommandTopic, err)
	}
	b.logger.Printf("[mqtt] subscribed to %s", b.cfg.CommandTopic)
	return nil
}

func (b *Bridge) handleCommand(ctx context.Context, payload []byte) {
	for _, line := range strings.FieldsFunc(string(payload), func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := b.ctrl.Submit(ctx, app.Command(line)); err != nil {
			b.logger.Printf("[mqtt] command %q: %v", line, err)
		}
	}
}

// DeviceLine publishes one motion device line. It does not wait for the
// broker.
func (b *Bridge) DeviceLine(line string) {
	b.client.Publish(b.cfg.OutputTopic, b.qos(), false, line)
}

// Snapshot publishes the tracker state, retained, when it has changed.
func (b *Bridge) Snapshot(s tracker.Snapshot) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.logger.Printf("[mqtt] snapshot: %v", err)
		return
	}
	if bytes.Equal(payload, b.lastState) {
		return
	}
	b.lastState = payload
	b.client.Publish(b.cfg.StateTopic, b.qos(), true, payload)
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
	b.logger.Printf("[mqtt] disconnected")
}

func (b *Bridge) qos() byte {
	return byte(b.cfg.QoS)
}
