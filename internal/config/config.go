package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	MQTTBroker         string
	MQTTPort           int
	MQTTClientID       string
	MQTTUsername       string
	MQTTPassword       string
	MQTTQoS            byte
	MQTTConnectTimeout time.Duration

	// SubscribeRoot is the first topic level of inbound Node-RED commands,
	// "nred2" + client ID unless set.
	SubscribeRoot string
	// PublishRoot is the first topic level of outbound telemetry.
	PublishRoot string

	PollInterval time.Duration
	DevicesFile  string
}

// rawEnv mirrors the environment before validation.
type rawEnv struct {
	AppEnv             string `env:"APP_ENV" envDefault:"dev"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	MQTTBroker         string `env:"MQTT_BROKER" envDefault:"localhost"`
	MQTTPort           string `env:"MQTT_PORT" envDefault:"1883"`
	MQTTClientID       string `env:"MQTT_CLIENT_ID" envDefault:"pi"`
	MQTTUsername       string `env:"MQTT_USERNAME"`
	MQTTPassword       string `env:"MQTT_PASSWORD"`
	MQTTCredentials    string `env:"MQTT_CREDENTIALS_FILE"`
	MQTTQoS            string `env:"MQTT_QOS" envDefault:"0"`
	MQTTConnectTimeout string `env:"MQTT_CONNECT_TIMEOUT" envDefault:"30s"`
	SubscribeRoot      string `env:"SUBSCRIBE_ROOT"`
	PublishRoot        string `env:"PUBLISH_ROOT" envDefault:"pi2nred"`
	PollInterval       string `env:"POLL_INTERVAL" envDefault:"1s"`
	DevicesFile        string `env:"DEVICES_FILE" envDefault:"devices.yaml"`
}

// LoadFromEnv reads an optional .env file from the working directory and
// then the process environment. Values already set in the environment win.
func LoadFromEnv() (Config, error) {
	_ = godotenv.Load()

	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return raw.validate()
}

func (raw rawEnv) validate() (Config, error) {
	raw.applyDefaults()

	appEnv := raw.AppEnv
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(raw.LogLevel)
	if err != nil {
		return Config{}, err
	}

	mqttPortStr := raw.MQTTPort
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("MQTT_PORT out of range: %d", mqttPort)
	}

	qosStr := raw.MQTTQoS
	qos, err := strconv.ParseUint(qosStr, 10, 8)
	if err != nil || qos > 2 {
		return Config{}, fmt.Errorf("invalid MQTT_QOS %q (allowed: 0, 1, 2)", qosStr)
	}

	connectTimeoutStr := raw.MQTTConnectTimeout
	connectTimeout, err := time.ParseDuration(connectTimeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_CONNECT_TIMEOUT %q: %w", connectTimeoutStr, err)
	}
	if connectTimeout <= 0 {
		return Config{}, fmt.Errorf("MQTT_CONNECT_TIMEOUT must be positive, got %v", connectTimeout)
	}

	pollIntervalStr := raw.PollInterval
	pollInterval, err := time.ParseDuration(pollIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid POLL_INTERVAL %q: %w", pollIntervalStr, err)
	}
	if pollInterval <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be positive, got %v", pollInterval)
	}

	clientID := raw.MQTTClientID

	user := strings.TrimSpace(raw.MQTTUsername)
	password := raw.MQTTPassword
	if path := strings.TrimSpace(raw.MQTTCredentials); path != "" && user == "" {
		user, password, err = readCredentials(path)
		if err != nil {
			return Config{}, err
		}
	}

	subscribeRoot := orDefault(raw.SubscribeRoot, "nred2"+clientID)
	publishRoot := raw.PublishRoot
	for name, v := range map[string]string{"SUBSCRIBE_ROOT": subscribeRoot, "PUBLISH_ROOT": publishRoot} {
		if strings.ContainsAny(v, "/+#") {
			return Config{}, fmt.Errorf("%s %q must be a single topic level", name, v)
		}
	}

	return Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		MQTTBroker:         raw.MQTTBroker,
		MQTTPort:           mqttPort,
		MQTTClientID:       clientID,
		MQTTUsername:       user,
		MQTTPassword:       password,
		MQTTQoS:            byte(qos),
		MQTTConnectTimeout: connectTimeout,
		SubscribeRoot:      subscribeRoot,
		PublishRoot:        publishRoot,
		PollInterval:       pollInterval,
		DevicesFile:        raw.DevicesFile,
	}, nil
}

// readCredentials reads a two-line file: username, then password.
// A leading "~/" is expanded to the home directory.
func readCredentials(path string) (string, string, error) {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", fmt.Errorf("MQTT_CREDENTIALS_FILE %q: %w", path, err)
		}
		path = filepath.Join(home, rest)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("MQTT_CREDENTIALS_FILE %q: %w", path, err)
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) == "" {
		return "", "", fmt.Errorf("MQTT_CREDENTIALS_FILE %q: want username and password on the first two lines", path)
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]), nil
}

// applyDefaults trims every field carrying an envDefault tag and puts the
// tag value back when the variable was set but blank.
func (raw *rawEnv) applyDefaults() {
	v := reflect.ValueOf(raw).Elem()
	t := v.Type()
	for i := range t.NumField() {
		def, ok := t.Field(i).Tag.Lookup("envDefault")
		if !ok {
			continue
		}
		f := v.Field(i)
		f.SetString(orDefault(f.String(), def))
	}
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
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
