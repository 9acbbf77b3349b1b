package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/retry"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Build-time defaults, set with
//
//	go build -ldflags "-X github.com/ericogr/ds18b20-to-http/pkg/config.CollectorIP=192.168.1.10 -X ...CollectorPort=8080"
var (
	CollectorIP   = ""
	CollectorPort = ""
)

// Environment variables naming the collector, read once at startup.
const (
	EnvCollectorIP   = "POST_ENDPOINT_IP"
	EnvCollectorPort = "POST_ENDPOINT_PORT"
)

const (
	SensorTypeReal       = "real"
	SensorTypeSimulation = "simulation"

	OutputHTTP    = "http"
	OutputConsole = "console"
	OutputMQTT    = "mqtt"
)

type RetryConfig struct {
	Attempts  int `json:"attempts" yaml:"attempts"`
	BackoffMs int `json:"backoff_ms" yaml:"backoff_ms"`
}

// Policy converts the settings into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.Attempts, Backoff: time.Duration(r.BackoffMs) * time.Millisecond}
}

type BusConfig struct {
	// Name selects the bus: "" for the first registered one-wire master,
	// a periph registry name or alias such as "OneWire1", or
	// "serial:/dev/ttyUSB0" for a UART adapter.
	Name       string `json:"name" yaml:"name"`
	FamilyCode int    `json:"family_code" yaml:"family_code"`
	Sensors    int    `json:"sensors" yaml:"sensors"`
}

type HTTPConfig struct {
	Address   string      `json:"address" yaml:"address"`
	Path      string      `json:"path" yaml:"path"`
	TimeoutMs int         `json:"timeout_ms" yaml:"timeout_ms"`
	Retry     RetryConfig `json:"retry" yaml:"retry"`
}

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic" yaml:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name" yaml:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id" yaml:"discovery_unique_id"`
}

type OutputConfig struct {
	Type       string      `json:"type" yaml:"type"`
	IntervalMs int         `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	HTTP       *HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`
	MQTT       *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

type LinkConfig struct {
	Wait      bool   `json:"wait" yaml:"wait"`
	Interface string `json:"interface" yaml:"interface"`
	PollMs    int    `json:"poll_ms" yaml:"poll_ms"`
}

type Config struct {
	SensorType      string         `json:"sensor_type" yaml:"sensor_type"`
	Bus             BusConfig      `json:"bus" yaml:"bus"`
	IntervalMs      int            `json:"interval_ms" yaml:"interval_ms"`
	ChannelCapacity int            `json:"channel_capacity" yaml:"channel_capacity"`
	DiscoveryRetry  RetryConfig    `json:"discovery_retry" yaml:"discovery_retry"`
	ReadRetry       RetryConfig    `json:"read_retry" yaml:"read_retry"`
	Outputs         []OutputConfig `json:"outputs" yaml:"outputs"`
	Link            LinkConfig     `json:"link" yaml:"link"`
	LogLevel        string         `json:"log_level" yaml:"log_level"`
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Path:      "/data",
		TimeoutMs: 30000,
		Retry:     RetryConfig{Attempts: 1},
	}
}

func DefaultConfig() Config {
	cfg := Config{
		SensorType:      SensorTypeReal,
		Bus:             BusConfig{FamilyCode: 0x28, Sensors: 2},
		IntervalMs:      1000,
		ChannelCapacity: 4,
		DiscoveryRetry:  RetryConfig{Attempts: 3, BackoffMs: 25},
		ReadRetry:       RetryConfig{Attempts: 3, BackoffMs: 25},
		Outputs:         []OutputConfig{{Type: OutputConsole}},
		Link:            LinkConfig{Wait: true, PollMs: 500},
		LogLevel:        "info",
	}
	if CollectorIP != "" && CollectorPort != "" {
		h := DefaultHTTPConfig()
		h.Address = joinHostPort(CollectorIP, CollectorPort)
		cfg.Outputs = []OutputConfig{{Type: OutputHTTP, HTTP: &h}}
	}
	return cfg
}

// LoadFile reads a configuration file on top of cfg. Files ending in .yaml
// or .yml are YAML; anything else is JSON, where comments are allowed.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(jsonc.ToJSON(b), cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadFromFlags builds the configuration from defaults, an optional config
// file, the collector environment variables and finally flags. Only flags
// given on the command line override earlier values.
func LoadFromFlags(args []string) (Config, error) {
	fs := pflag.NewFlagSet("ds18b20-to-http", pflag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagBus := fs.String("bus", "", "one-wire bus: registry name (OneWire1) or serial:/dev/ttyUSB0")
	flagSensors := fs.Int("sensors", 0, "number of sensors expected on the bus")
	flagFamily := fs.String("family-code", "", "one-wire family code (decimal or 0x hex)")
	flagInterval := fs.Int("interval-ms", 0, "Sampling period in ms")
	flagCapacity := fs.Int("channel-capacity", 0, "Readings queued per subscriber before the oldest is dropped")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (http,console,mqtt)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. http=1000,mqtt=5000")
	flagCollector := fs.String("collector", "", "Collector IPv4 address and port (ip:port)")
	flagCollectorPath := fs.String("collector-path", "", "Collector request path")
	flagTimeout := fs.Int("timeout-ms", 0, "Collector connect/write/read timeout in ms")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic (%s is replaced by the sensor address)")
	flagLinkIface := fs.String("link-interface", "", "Network interface to wait for before reporting")
	flagNoLinkWait := fs.Bool("no-link-wait", false, "Do not wait for a routable address before reporting")
	flagLogLevel := fs.String("log-level", "", "debug|info|warn|error")

	cfg := DefaultConfig()
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *cfgPath != "" {
		if err := LoadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	if fs.Changed("sensor-type") {
		cfg.SensorType = *flagSensorType
	}
	if fs.Changed("bus") {
		cfg.Bus.Name = *flagBus
	}
	if fs.Changed("sensors") {
		cfg.Bus.Sensors = *flagSensors
	}
	if fs.Changed("family-code") {
		v, err := parseIntOrHex(*flagFamily)
		if err != nil {
			return cfg, fmt.Errorf("family-code: %w", err)
		}
		cfg.Bus.FamilyCode = v
	}
	if fs.Changed("interval-ms") {
		cfg.IntervalMs = *flagInterval
	}
	if fs.Changed("channel-capacity") {
		cfg.ChannelCapacity = *flagCapacity
	}
	if fs.Changed("outputs") {
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, findOrNewOutput(cfg.Outputs, strings.ToLower(p)))
		}
		cfg.Outputs = outs
	}
	if fs.Changed("output-intervals") {
		for _, p := range parseCSV(*flagOutputIntervals) {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				return cfg, fmt.Errorf("output-intervals: invalid entry %q", p)
			}
			v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
			if err != nil {
				return cfg, fmt.Errorf("output-intervals: %w", err)
			}
			for i := range cfg.Outputs {
				if cfg.Outputs[i].Type == strings.TrimSpace(kv[0]) {
					cfg.Outputs[i].IntervalMs = v
				}
			}
		}
	}
	if fs.Changed("collector") || fs.Changed("collector-path") || fs.Changed("timeout-ms") {
		h := httpOutput(&cfg)
		if fs.Changed("collector") {
			h.Address = *flagCollector
		}
		if fs.Changed("collector-path") {
			h.Path = *flagCollectorPath
		}
		if fs.Changed("timeout-ms") {
			h.TimeoutMs = *flagTimeout
		}
	}
	if fs.Changed("mqtt-server") || fs.Changed("mqtt-user") || fs.Changed("mqtt-pass") || fs.Changed("mqtt-client-id") || fs.Changed("mqtt-topic") {
		applied := false
		for i := range cfg.Outputs {
			if cfg.Outputs[i].Type != OutputMQTT {
				continue
			}
			if cfg.Outputs[i].MQTT == nil {
				cfg.Outputs[i].MQTT = &MQTTConfig{}
			}
			m := cfg.Outputs[i].MQTT
			if fs.Changed("mqtt-server") {
				m.Server = *flagMQTTServer
			}
			if fs.Changed("mqtt-user") {
				m.Username = *flagMQTTUser
			}
			if fs.Changed("mqtt-pass") {
				m.Password = *flagMQTTPass
			}
			if fs.Changed("mqtt-client-id") {
				m.ClientID = *flagClientID
			}
			if fs.Changed("mqtt-topic") {
				m.StateTopic = *flagTopic
			}
			applied = true
		}
		if !applied {
			return cfg, errors.New("mqtt flags given but no mqtt output configured")
		}
	}
	if fs.Changed("link-interface") {
		cfg.Link.Interface = *flagLinkIface
	}
	if *flagNoLinkWait {
		cfg.Link.Wait = false
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *flagLogLevel
	}

	cfg.fillOutputDefaults()
	return cfg, cfg.Validate()
}

// applyEnv points the http output at the collector named by the
// environment, creating the output when none is configured.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	ip, okIP := lookup(EnvCollectorIP)
	port, okPort := lookup(EnvCollectorPort)
	if !okIP && !okPort {
		return nil
	}
	if !okIP || !okPort {
		return fmt.Errorf("%s and %s must be set together", EnvCollectorIP, EnvCollectorPort)
	}
	httpOutput(cfg).Address = joinHostPort(ip, port)
	return nil
}

// httpOutput returns the settings of the first http output, adding one if
// needed.
func httpOutput(cfg *Config) *HTTPConfig {
	for i := range cfg.Outputs {
		if cfg.Outputs[i].Type == OutputHTTP {
			if cfg.Outputs[i].HTTP == nil {
				h := DefaultHTTPConfig()
				cfg.Outputs[i].HTTP = &h
			}
			return cfg.Outputs[i].HTTP
		}
	}
	h := DefaultHTTPConfig()
	cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: OutputHTTP, HTTP: &h})
	return cfg.Outputs[len(cfg.Outputs)-1].HTTP
}

func findOrNewOutput(outs []OutputConfig, typ string) OutputConfig {
	for _, o := range outs {
		if o.Type == typ {
			return o
		}
	}
	return OutputConfig{Type: typ}
}

// fillOutputDefaults completes partially specified http outputs.
func (c *Config) fillOutputDefaults() {
	def := DefaultHTTPConfig()
	for i := range c.Outputs {
		if c.Outputs[i].Type != OutputHTTP {
			continue
		}
		if c.Outputs[i].HTTP == nil {
			h := def
			c.Outputs[i].HTTP = &h
		}
		h := c.Outputs[i].HTTP
		if h.Path == "" {
			h.Path = def.Path
		}
		if h.TimeoutMs == 0 {
			h.TimeoutMs = def.TimeoutMs
		}
		if h.Retry.Attempts == 0 {
			h.Retry = def.Retry
		}
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.SensorType {
	case SensorTypeReal, SensorTypeSimulation:
	default:
		return fmt.Errorf("sensor-type must be %q or %q, got %q", SensorTypeReal, SensorTypeSimulation, c.SensorType)
	}
	if c.Bus.Sensors <= 0 {
		return errors.New("sensors must be > 0")
	}
	if c.Bus.FamilyCode < 0 || c.Bus.FamilyCode > 0xff {
		return fmt.Errorf("family-code %#x does not fit in a byte", c.Bus.FamilyCode)
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	if c.ChannelCapacity <= 0 {
		return errors.New("channel-capacity must be > 0")
	}
	if c.DiscoveryRetry.Attempts <= 0 || c.ReadRetry.Attempts <= 0 {
		return errors.New("retry attempts must be > 0")
	}
	if len(c.Outputs) == 0 {
		return errors.New("at least one output is required")
	}
	for _, o := range c.Outputs {
		switch o.Type {
		case OutputConsole:
		case OutputMQTT:
			if o.MQTT == nil || o.MQTT.Server == "" {
				return errors.New("mqtt output needs a server")
			}
		case OutputHTTP:
			if o.HTTP == nil {
				return errors.New("http output needs settings")
			}
			if _, err := ParseCollector(o.HTTP.Address); err != nil {
				return err
			}
			if !strings.HasPrefix(o.HTTP.Path, "/") {
				return fmt.Errorf("collector path %q must start with /", o.HTTP.Path)
			}
			if o.HTTP.TimeoutMs <= 0 {
				return errors.New("timeout-ms must be > 0")
			}
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

// ParseCollector parses an "ip:port" collector address. Only IPv4 literals
// are accepted; the address is fixed at deployment and never resolved.
func ParseCollector(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("collector address %q: %w", s, err)
	}
	if !ap.Addr().Is4() {
		return netip.AddrPort{}, fmt.Errorf("collector address %q is not IPv4", s)
	}
	if ap.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("collector address %q has no port", s)
	}
	return ap, nil
}

func joinHostPort(ip, port string) string {
	return strings.TrimSpace(ip) + ":" + strings.TrimSpace(port)
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
