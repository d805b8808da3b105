package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigLoadYAMLKeepsPluginBlob(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "t"
  owner_user_ids: [1, 2]
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  workers: 2
storage:
  driver: file
  path: state.json
plugins:
  streams:
    enabled: true
    config:
      channels: "a b"
      client_id: "cid"
      token: "tok"
`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "t" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram section mangled: %+v", cfg.Telegram)
	}
	raw, ok := cfg.Plugins["streams"]
	if !ok || !raw.Enabled {
		t.Fatalf("plugins.streams = %+v, want enabled", raw)
	}
	// the blob must survive yaml->json as raw JSON for the plugin to decode
	var pc struct {
		Channels string `json:"channels"`
	}
	if err := json.Unmarshal(raw.Config, &pc); err != nil {
		t.Fatalf("plugin blob undecodable: %v (%s)", err, raw.Config)
	}
	if pc.Channels != "a b" {
		t.Fatalf("channels = %q, want %q", pc.Channels, "a b")
	}
}

func TestConfigLoadRejectsUnknownPluginKey(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
plugins:
  streams:
    enabled: true
    bogus: 1
`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown plugin-level key")
	} else if !strings.Contains(err.Error(), "bogus") && !strings.Contains(err.Error(), "unknown") {
		t.Logf("error text: %v", err)
	}
}

func TestConfigLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "telegram": {"token": "t"},
  "plugins": {"echo": {"enabled": true}}
}`)
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Plugins["echo"].Enabled {
		t.Fatal("plugins.echo should be enabled")
	}
}

func TestConfigLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := NewConfigManager(filepath.Join(t.TempDir(), "nope.yaml")).Load(); err == nil {
		t.Fatal("expected error for missing file")
	}
}
