package mqttbridge

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/kumocloud-golang/kumo"
)

// CommandFunc handles a command payload received for a device serial.
type CommandFunc func(serial string, commands map[string]any)

type Config struct {
	Host        string
	Port        int
	TLS         bool
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge publishes zone and device state to MQTT and relays commands from
// the broker back into the integration. It is the stand-in for a host
// framework's entity layer.
type Bridge struct {
	client mqtt.Client
	prefix string
}

func New(cfg Config) (*Bridge, error) {
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "kumowatch"
	}

	return &Bridge{client: client, prefix: prefix}, nil
}

// PublishSnapshot pushes every zone and device payload as retained
// messages so late subscribers see the last known state.
func (b *Bridge) PublishSnapshot(snapshot *kumo.Snapshot) {
	for _, zone := range snapshot.Zones {
		if zone.ID == "" {
			continue
		}
		payload, err := json.Marshal(zone.Raw)
		if err != nil {
			continue
		}
		b.publish(fmt.Sprintf("%s/zones/%s/state", b.prefix, zone.ID), payload)
	}

	for serial, detail := range snapshot.Devices {
		payload, err := json.Marshal(detail)
		if err != nil {
			continue
		}
		b.publish(fmt.Sprintf("%s/devices/%s/state", b.prefix, serial), payload)
	}
}

// SubscribeCommands relays JSON command payloads published to
// {prefix}/devices/{serial}/set.
func (b *Bridge) SubscribeCommands(handler CommandFunc) error {
	topic := b.prefix + "/devices/+/set"
	token := b.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		serial := commandSerial(b.prefix, msg.Topic())
		if serial == "" {
			return
		}
		var commands map[string]any
		if err := json.Unmarshal(msg.Payload(), &commands); err != nil {
			log.Printf("mqttbridge: bad command payload on %s: %v", msg.Topic(), err)
			return
		}
		handler(serial, commands)
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

func (b *Bridge) publish(topic string, payload []byte) {
	if token := b.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		log.Printf("mqttbridge: publish %s: %v", topic, token.Error())
	}
}

func commandSerial(prefix, topic string) string {
	rest := strings.TrimPrefix(topic, prefix+"/devices/")
	serial := strings.TrimSuffix(rest, "/set")
	if serial == rest || strings.Contains(serial, "/") {
		return ""
	}
	return serial
}

func randomClientID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "kumowatch"
	}
	return "kumowatch-" + base64.RawURLEncoding.EncodeToString(buf)
}
