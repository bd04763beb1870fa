package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesFullConfig(t *testing.T) {
	p := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/tmp/feeddb"
feed:
  capacity: 50
  cooldown: "3s"
  replay: 25
  system_notice: "welcome"
avatars:
  retry_after: "25s"
  max_concurrent: 6
logging:
  level: "debug"
retention:
  enabled: true
  cron: "0 * * * *"
  period: "168h"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("Addr: %s", cfg.Addr())
	}
	if cfg.Feed.Capacity != 50 || cfg.Feed.Cooldown.Std() != 3*time.Second {
		t.Fatalf("feed config: %+v", cfg.Feed)
	}
	if cfg.Avatars.RetryAfter.Std() != 25*time.Second || cfg.Avatars.MaxConcurrent != 6 {
		t.Fatalf("avatar config: %+v", cfg.Avatars)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Period.Std() != 168*time.Hour {
		t.Fatalf("retention config: %+v", cfg.Retention)
	}
	if cfg.Feed.SystemNotice != "welcome" {
		t.Fatalf("system notice: %q", cfg.Feed.SystemNotice)
	}
}

func TestDurationAcceptsBareMilliseconds(t *testing.T) {
	p := writeConfig(t, `
feed:
  cooldown: 3000
avatars:
  retry_after: 25000
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.Cooldown.Std() != 3*time.Second {
		t.Fatalf("cooldown: %v", cfg.Feed.Cooldown.Std())
	}
	if cfg.Avatars.RetryAfter.Std() != 25*time.Second {
		t.Fatalf("retry_after: %v", cfg.Avatars.RetryAfter.Std())
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	p := writeConfig(t, "feed:\n  cooldown: \"soon\"\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error for invalid duration")
	}
}

func TestAddrDefaultsPort(t *testing.T) {
	var cfg Config
	if cfg.Addr() != ":8080" {
		t.Fatalf("Addr default: %s", cfg.Addr())
	}
}

func TestLoadEffectiveFileThenEnvThenFlags(t *testing.T) {
	p := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 7000
  db_path: "/from/file"
feed:
  cooldown: "5s"
`)
	t.Setenv("CHATFEED_DB_PATH", "/from/env")
	t.Setenv("CHATFEED_FEED_CAPACITY", "25")

	res, err := LoadEffective(p, Flags{Addr: ":8080", DB: "./.feeddb", Set: map[string]bool{}})
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if res.Source != "config" {
		t.Fatalf("source: %s", res.Source)
	}
	// file wins where it sets a value
	if res.Addr != "127.0.0.1:7000" || res.DBPath != "/from/file" {
		t.Fatalf("file values lost: addr=%s db=%s", res.Addr, res.DBPath)
	}
	// env fills the gaps the file left
	if res.Config.Feed.Capacity != 25 {
		t.Fatalf("env capacity not merged: %d", res.Config.Feed.Capacity)
	}
	if res.Config.Feed.Cooldown.Std() != 5*time.Second {
		t.Fatalf("file cooldown lost: %v", res.Config.Feed.Cooldown.Std())
	}

	// explicit flags override everything
	res, err = LoadEffective(p, Flags{
		Addr: ":6000", DB: "/from/flag",
		Set: map[string]bool{"addr": true, "db": true},
	})
	if err != nil {
		t.Fatalf("LoadEffective with flags: %v", err)
	}
	if res.Source != "flags" || res.Addr != ":6000" || res.DBPath != "/from/flag" {
		t.Fatalf("flags not applied: %+v", res)
	}
}

func TestLoadEffectiveMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("CHATFEED_ADDR", "0.0.0.0:9999")
	res, err := LoadEffective(filepath.Join(t.TempDir(), "nope.yaml"),
		Flags{Addr: ":8080", DB: "./.feeddb", Set: map[string]bool{}})
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if res.Source != "env" || res.Addr != "0.0.0.0:9999" {
		t.Fatalf("env fallback failed: source=%s addr=%s", res.Source, res.Addr)
	}
	// flag default fills the db path
	if res.DBPath != "./.feeddb" {
		t.Fatalf("db path default: %s", res.DBPath)
	}
}
