package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allVars = []string{
	"APP_ENV", "LOG_LEVEL", "MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID",
	"MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_CREDENTIALS_FILE", "MQTT_QOS",
	"MQTT_CONNECT_TIMEOUT", "SUBSCRIBE_ROOT", "PUBLISH_ROOT", "POLL_INTERVAL",
	"DEVICES_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.MQTTBroker != "localhost" || got.MQTTPort != 1883 {
		t.Errorf("broker = %s:%d, want localhost:1883", got.MQTTBroker, got.MQTTPort)
	}
	if got.MQTTClientID != "pi" {
		t.Errorf("MQTTClientID = %q, want %q", got.MQTTClientID, "pi")
	}
	if got.SubscribeRoot != "nred2pi" {
		t.Errorf("SubscribeRoot = %q, want %q", got.SubscribeRoot, "nred2pi")
	}
	if got.PublishRoot != "pi2nred" {
		t.Errorf("PublishRoot = %q, want %q", got.PublishRoot, "pi2nred")
	}
	if got.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", got.PollInterval)
	}
	if got.MQTTConnectTimeout != 30*time.Second {
		t.Errorf("MQTTConnectTimeout = %v, want 30s", got.MQTTConnectTimeout)
	}
	if got.MQTTQoS != 0 {
		t.Errorf("MQTTQoS = %d, want 0", got.MQTTQoS)
	}
	if got.DevicesFile != "devices.yaml" {
		t.Errorf("DevicesFile = %q, want devices.yaml", got.DevicesFile)
	}
}

func TestLoadFromEnv_SubscribeRootFollowsClientID(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_CLIENT_ID", "  esp  ")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.SubscribeRoot != "nred2esp" {
		t.Errorf("SubscribeRoot = %q, want %q", got.SubscribeRoot, "nred2esp")
	}

	t.Setenv("SUBSCRIBE_ROOT", "nred2all")
	got, err = LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.SubscribeRoot != "nred2all" {
		t.Errorf("SubscribeRoot = %q, want %q", got.SubscribeRoot, "nred2all")
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "app env", key: "APP_ENV", val: "staging"},
		{name: "log level", key: "LOG_LEVEL", val: "verbose"},
		{name: "port not a number", key: "MQTT_PORT", val: "abc"},
		{name: "port out of range", key: "MQTT_PORT", val: "70000"},
		{name: "qos", key: "MQTT_QOS", val: "3"},
		{name: "poll interval", key: "POLL_INTERVAL", val: "soon"},
		{name: "poll interval negative", key: "POLL_INTERVAL", val: "-1s"},
		{name: "connect timeout zero", key: "MQTT_CONNECT_TIMEOUT", val: "0s"},
		{name: "publish root with level", key: "PUBLISH_ROOT", val: "pi2nred/x"},
		{name: "subscribe root wildcard", key: "SUBSCRIBE_ROOT", val: "#"},
		{name: "missing credentials file", key: "MQTT_CREDENTIALS_FILE", val: "/nonexistent/stem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestLoadFromEnv_LogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warning", want: slog.LevelWarn},
		{in: " error ", want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("LOG_LEVEL", tt.in)

			got, err := LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv() error = %v, want nil", err)
			}
			if got.LogLevel != tt.want {
				t.Errorf("LogLevel = %v, want %v", got.LogLevel, tt.want)
			}
		})
	}
}

func TestLoadFromEnv_CredentialsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "stem")
	if err := os.WriteFile(path, []byte("nodered\nsecret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MQTT_CREDENTIALS_FILE", path)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.MQTTUsername != "nodered" || got.MQTTPassword != "secret" {
		t.Errorf("credentials = %q/%q, want nodered/secret", got.MQTTUsername, got.MQTTPassword)
	}
}

func TestLoadFromEnv_ExplicitUserWinsOverFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_CREDENTIALS_FILE", "/nonexistent/stem")
	t.Setenv("MQTT_USERNAME", "alice")
	t.Setenv("MQTT_PASSWORD", "pw")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.MQTTUsername != "alice" || got.MQTTPassword != "pw" {
		t.Errorf("credentials = %q/%q, want alice/pw", got.MQTTUsername, got.MQTTPassword)
	}
}

func TestReadCredentials_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stem")
	if err := os.WriteFile(path, []byte("only-user"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := readCredentials(path); err == nil {
		t.Fatal("readCredentials() error = nil, want non-nil")
	}
}

func TestLoadFromEnv_BlankValuesUseTagDefaults(t *testing.T) {
	clearEnv(t)
	for _, k := range []string{"APP_ENV", "MQTT_PORT", "MQTT_CLIENT_ID", "POLL_INTERVAL", "DEVICES_FILE"} {
		t.Setenv(k, "   ")
	}

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.AppEnv != "dev" || got.MQTTPort != 1883 || got.MQTTClientID != "pi" {
		t.Errorf("got %q/%d/%q, want dev/1883/pi", got.AppEnv, got.MQTTPort, got.MQTTClientID)
	}
	if got.PollInterval != time.Second || got.DevicesFile != "devices.yaml" {
		t.Errorf("got %v/%q, want 1s/devices.yaml", got.PollInterval, got.DevicesFile)
	}
}

func TestValidate_ZeroRawEnvTakesTagDefaults(t *testing.T) {
	// validate alone, without env.Parse filling the tags first
	got, err := rawEnv{}.validate()
	if err != nil {
		t.Fatalf("validate() error = %v, want nil", err)
	}
	if got.MQTTBroker != "localhost" || got.PublishRoot != "pi2nred" || got.SubscribeRoot != "nred2pi" {
		t.Errorf("got %q/%q/%q, want localhost/pi2nred/nred2pi", got.MQTTBroker, got.PublishRoot, got.SubscribeRoot)
	}
	if got.MQTTConnectTimeout != 30*time.Second {
		t.Errorf("MQTTConnectTimeout = %v, want 30s", got.MQTTConnectTimeout)
	}
}
