package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/ds18b20-to-http/pkg/config"
	"github.com/ericogr/ds18b20-to-http/pkg/output"
	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
	"periph.io/x/conn/v3/onewire"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "ds18b20-client"
	DefaultStateTopic = "ds18b20/%s"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitCelsius            = "°C"
	deviceClassTemperature = "temperature"
	stateClassMeasurement  = "measurement"
	valueTemplateCelsius   = "{{ value_json.temperature }}"
	// placeholder replaced by the sensor address in topics
	addrVerb = "%s"
)

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	logger     *slog.Logger
}

// NewMQTT connects to the broker and, when a discovery topic is set,
// announces one Home Assistant temperature sensor per address.
func NewMQTT(cfg config.MQTTConfig, sensors []onewire.Address, logger *slog.Logger) (output.Output, error) {
	cfg = withDefaults(cfg)
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newWithClient(client, cfg, sensors, logger), nil
}

func newWithClient(client mqtt.Client, cfg config.MQTTConfig, sensors []onewire.Address, logger *slog.Logger) *MQTTOutput {
	st := cfg.StateTopic
	if st == "" {
		st = DefaultStateTopic
	}
	m := &MQTTOutput{client: client, stateTopic: st, logger: logger}

	// Publish Home Assistant discovery payload(s) if requested
	if cfg.DiscoveryTopic != "" {
		for _, a := range sensors {
			dTopic := formatTopic(cfg.DiscoveryTopic, a)
			payload := baseDiscoveryPayload(discoveryName(cfg, a), formatTopic(st, a), discoveryUniqueID(cfg, a))
			if err := publishJSON(client, dTopic, true, payload); err != nil {
				logger.Error("mqtt discovery publish error", "topic", dTopic, "error", err)
			}
			if !strings.Contains(cfg.DiscoveryTopic, addrVerb) {
				// a single fixed topic can only describe one sensor
				break
			}
		}
	}
	return m
}

func (m *MQTTOutput) Publish(_ context.Context, set sensor.ReadingSet) error {
	for _, r := range set.Readings {
		payload := map[string]interface{}{
			"temperature": r.Celsius,
			"seq":         set.Seq,
			"address":     sensor.FormatAddress(r.Address),
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		token := m.client.Publish(formatTopic(m.stateTopic, r.Address), 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// helper: fill unset connection settings
func withDefaults(cfg config.MQTTConfig) config.MQTTConfig {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	return cfg
}

// helper: place the sensor address into a topic containing %s
func formatTopic(base string, a onewire.Address) string {
	if strings.Contains(base, addrVerb) {
		return strings.Replace(base, addrVerb, sensor.FormatAddress(a), 1)
	}
	return base
}

// helper: build a human-friendly discovery name for a sensor
func discoveryName(cfg config.MQTTConfig, a onewire.Address) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("DS18B20 %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, sensor.FormatAddress(a))
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, a onewire.Address) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	addr := strings.ReplaceAll(sensor.FormatAddress(a), "-", "_")
	if uid == "" {
		return addr
	}
	return uid + "_" + addr
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   unitCelsius,
		keyDeviceClass:         deviceClassTemperature,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateCelsius,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
