package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
kumo:
  username: someone@example.com
  password_file: /run/secrets/kumo-password
  site_id: site-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Fatalf("expected default http addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.State.Path != DefaultStatePath {
		t.Fatalf("expected default state path, got %q", cfg.State.Path)
	}
	if cfg.Kumo.ScanIntervalSeconds != DefaultScanInterval {
		t.Fatalf("expected default scan interval, got %d", cfg.Kumo.ScanIntervalSeconds)
	}
	if cfg.MQTT != nil {
		t.Fatal("expected mqtt to stay disabled")
	}
}

func TestLoadMQTTDefaults(t *testing.T) {
	path := writeConfig(t, `
kumo:
  username: someone@example.com
  password_file: /run/secrets/kumo-password
  site_id: site-1
mqtt:
  host: broker.local
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MQTT == nil {
		t.Fatal("expected mqtt config")
	}
	if cfg.MQTT.Port != DefaultMQTTPort {
		t.Fatalf("expected default port, got %d", cfg.MQTT.Port)
	}
	if cfg.MQTT.TopicPrefix != DefaultTopicPrefix {
		t.Fatalf("expected default topic prefix, got %q", cfg.MQTT.TopicPrefix)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing username", `
kumo:
  password_file: /run/secrets/kumo-password
  site_id: site-1
`},
		{"missing site id", `
kumo:
  username: someone@example.com
  password_file: /run/secrets/kumo-password
`},
		{"blob without bucket", `
kumo:
  username: someone@example.com
  password_file: /run/secrets/kumo-password
  site_id: site-1
state:
  blob:
    endpoint: https://s3.example.com
    access_key_file: /run/secrets/ak
    secret_key_file: /run/secrets/sk
`},
		{"mqtt without host", `
kumo:
  username: someone@example.com
  password_file: /run/secrets/kumo-password
  site_id: site-1
mqtt:
  port: 1883
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestReadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	secret, err := ReadSecret(path)
	if err != nil {
		t.Fatalf("read secret: %v", err)
	}
	if secret != "hunter2" {
		t.Fatalf("unexpected secret: %q", secret)
	}
}
