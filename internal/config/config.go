package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"mi-sensor-bridge/internal/ble"
)

const DefaultTopicPrefix = "mi_sensor"

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	MQTTURL      string
	MQTTClientID string
	TopicPrefix  string
	Verbose      bool

	BLEAdapter string

	// HTTPAddr serves /healthz and /metrics when non-empty.
	HTTPAddr string
	// JournalPath enables the SQLite journal of forwarded readings when non-empty.
	JournalPath string

	// AllowedSensors limits forwarding to these devices. Empty forwards all.
	AllowedSensors []ble.MAC
}

// Load reads the environment, then lets command line flags override it.
// args excludes the program name.
func Load(args []string, stderr io.Writer) (Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("mi-sensor-bridge", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.MQTTURL, "mqtt-url", cfg.MQTTURL, "MQTT broker URL, e.g. mqtt://localhost:1883?client_id=bridge")
	fs.StringVar(&cfg.MQTTURL, "m", cfg.MQTTURL, "shorthand for -mqtt-url")
	fs.StringVar(&cfg.TopicPrefix, "topic", cfg.TopicPrefix, "topic prefix; readings go to <topic>/<mac>")
	fs.StringVar(&cfg.TopicPrefix, "t", cfg.TopicPrefix, "shorthand for -topic")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "log every forwarded reading and broker notification")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "shorthand for -verbose")
	fs.StringVar(&cfg.BLEAdapter, "adapter", cfg.BLEAdapter, "bluetooth adapter id")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "listen address for /healthz and /metrics (disabled when empty)")
	fs.StringVar(&cfg.JournalPath, "journal-path", cfg.JournalPath, "sqlite file recording forwarded readings (disabled when empty)")
	fs.Func("allow", "comma separated sensor MACs to forward, e.g. a4:c1:38:00:11:22 (all when empty)", func(v string) error {
		macs, err := parseAllowList(v)
		if err != nil {
			return err
		}
		cfg.AllowedSensors = macs
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg.MQTTURL = strings.TrimSpace(cfg.MQTTURL)
	cfg.TopicPrefix = strings.TrimSpace(cfg.TopicPrefix)
	cfg.BLEAdapter = strings.TrimSpace(cfg.BLEAdapter)
	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	cfg.JournalPath = strings.TrimSpace(cfg.JournalPath)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv reads defaults from the environment without validating the
// fields that flags may still provide.
func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	topic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if topic == "" {
		topic = DefaultTopicPrefix
	}

	verbose := false
	if v := strings.TrimSpace(os.Getenv("VERBOSE")); v != "" {
		verbose, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VERBOSE %q: %w", v, err)
		}
	}

	allowed, err := parseAllowList(os.Getenv("SENSOR_ALLOWLIST"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SENSOR_ALLOWLIST: %w", err)
	}

	adapter := strings.TrimSpace(os.Getenv("BLE_ADAPTER"))
	if adapter == "" {
		adapter = "hci0"
	}

	return Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		MQTTURL:      strings.TrimSpace(os.Getenv("MQTT_URL")),
		MQTTClientID: strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID")),
		TopicPrefix:  topic,
		Verbose:      verbose,
		BLEAdapter:   adapter,
		HTTPAddr:     strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		JournalPath:  strings.TrimSpace(os.Getenv("JOURNAL_PATH")),

		AllowedSensors: allowed,
	}, nil
}

func (c Config) validate() error {
	if c.MQTTURL == "" {
		return errors.New("mqtt url is required (-mqtt-url or MQTT_URL)")
	}
	if c.TopicPrefix == "" {
		return errors.New("topic prefix must not be empty")
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("topic prefix %q must not contain MQTT wildcards", c.TopicPrefix)
	}
	if c.BLEAdapter == "" {
		return errors.New("ble adapter must not be empty")
	}
	return nil
}

// parseAllowList reads MACs in display order, skipping blanks and repeats.
func parseAllowList(s string) ([]ble.MAC, error) {
	var out []ble.MAC
	seen := make(map[ble.MAC]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mac, err := ble.ParseMAC(part)
		if err != nil {
			return nil, err
		}
		if seen[mac] {
			continue
		}
		seen[mac] = true
		out = append(out, mac)
	}
	return out, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
