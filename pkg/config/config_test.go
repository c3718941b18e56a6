package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{`"5m"`, 5 * time.Minute},
		{`"100ms"`, 100 * time.Millisecond},
		{`"1h30m"`, 90 * time.Minute},
		{`30`, 30 * time.Second},
		{`1.5`, 1500 * time.Millisecond},
		{`""`, 0},
	}
	for _, tc := range cases {
		var d Duration
		if err := yaml.Unmarshal([]byte(tc.in), &d); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if d.Duration() != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.in, d.Duration(), tc.want)
		}
	}

	var d Duration
	if err := yaml.Unmarshal([]byte(`"not a duration"`), &d); err == nil {
		t.Fatal("expected error for garbage duration")
	}
}

func TestSizeBytesUnmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{`"4MB"`, 4 * 1000 * 1000},
		{`"512KiB"`, 512 * 1024},
		{`1048576`, 1048576},
		{`""`, 0},
	}
	for _, tc := range cases {
		var s SizeBytes
		if err := yaml.Unmarshal([]byte(tc.in), &s); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if s.Int64() != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.in, s.Int64(), tc.want)
		}
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/var/lib/threadsync"
security:
  api_keys:
    backend: ["bk1"]
    frontend: ["fk1", "fk2"]
retention:
  enabled: true
  period: "720h"
sync:
  interval: "2m"
  server_url: "http://localhost:9090"
  max_batch_bytes: "1MB"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("addr: %s", cfg.Addr())
	}
	if cfg.Server.DBPath != "/var/lib/threadsync" {
		t.Fatalf("db path: %s", cfg.Server.DBPath)
	}
	if len(cfg.Security.APIKeys.Frontend) != 2 {
		t.Fatalf("frontend keys: %v", cfg.Security.APIKeys.Frontend)
	}
	if !cfg.Retention.Enabled || cfg.Retention.Period != "720h" {
		t.Fatalf("retention: %+v", cfg.Retention)
	}
	if cfg.Sync.Interval.Duration() != 2*time.Minute {
		t.Fatalf("sync interval: %v", cfg.Sync.Interval.Duration())
	}
	if cfg.Sync.MaxBatchBytes.Int64() != 1000*1000 {
		t.Fatalf("max batch bytes: %d", cfg.Sync.MaxBatchBytes.Int64())
	}
}

func TestLoadMissingFileWrapsNotExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !os.IsNotExist(errUnwrapAll(err)) {
		t.Fatalf("error must unwrap to not-exist: %v", err)
	}
}

func errUnwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
}

func TestAddrDefaults(t *testing.T) {
	var c Config
	if c.Addr() != "0.0.0.0:8080" {
		t.Fatalf("default addr: %s", c.Addr())
	}
}

func TestLoadEffectiveConfigPrecedence(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Address = "10.0.0.1"
	fileCfg.Server.Port = 7000
	fileCfg.Server.DBPath = "/from/file"

	envCfg := &Config{}
	envCfg.Server.DBPath = "/from/env"

	t.Run("explicit config flag requires the file", func(t *testing.T) {
		flags := Flags{Config: "missing.yaml", Set: map[string]bool{"config": true}}
		_, err := LoadEffectiveConfig(flags, &Config{}, false, envCfg, EnvResult{})
		if err == nil {
			t.Fatal("expected error for missing explicit config")
		}
	})

	t.Run("explicit config flag uses the file exclusively", func(t *testing.T) {
		flags := Flags{Config: "config.yaml", Set: map[string]bool{"config": true}}
		res, err := LoadEffectiveConfig(flags, fileCfg, true, envCfg, EnvResult{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Source != "config" || res.Addr != "10.0.0.1:7000" || res.DBPath != "/from/file" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("addr and db flags win over everything", func(t *testing.T) {
		flags := Flags{Addr: ":9999", DB: "/from/flag", Set: map[string]bool{"addr": true, "db": true}}
		res, err := LoadEffectiveConfig(flags, fileCfg, true, envCfg, EnvResult{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Source != "flags" || res.Addr != ":9999" || res.DBPath != "/from/flag" {
			t.Fatalf("unexpected result: %+v", res)
		}
		if res.Config.Server.Port != 9999 {
			t.Fatalf("port not parsed from addr: %d", res.Config.Server.Port)
		}
	})

	t.Run("addr flag alone borrows db from env then file", func(t *testing.T) {
		flags := Flags{Addr: ":9999", Set: map[string]bool{"addr": true}}
		res, err := LoadEffectiveConfig(flags, fileCfg, true, envCfg, EnvResult{})
		if err != nil {
			t.Fatal(err)
		}
		if res.DBPath != "/from/env" {
			t.Fatalf("expected env db path, got %s", res.DBPath)
		}
	})

	t.Run("file beats env when no flags", func(t *testing.T) {
		res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, envCfg, EnvResult{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Source != "config" || res.DBPath != "/from/file" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("env is the fallback", func(t *testing.T) {
		res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, &Config{}, false, envCfg, EnvResult{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Source != "env" || res.DBPath != "/from/env" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("THREADSYNC_ADDR", "0.0.0.0:9191")
	t.Setenv("THREADSYNC_DB_PATH", "/env/db")
	t.Setenv("THREADSYNC_API_BACKEND_KEYS", "bk1, bk2")
	t.Setenv("THREADSYNC_SYNC_SERVER_URL", "http://sync.example")

	cfg, res := ParseConfigEnvs()
	if !res.EnvUsed {
		t.Fatal("env vars set but EnvUsed is false")
	}
	if cfg.Server.Address != "0.0.0.0" || cfg.Server.Port != 9191 {
		t.Fatalf("addr not split: %s:%d", cfg.Server.Address, cfg.Server.Port)
	}
	if cfg.Server.DBPath != "/env/db" {
		t.Fatalf("db path: %s", cfg.Server.DBPath)
	}
	if cfg.Sync.ServerURL != "http://sync.example" {
		t.Fatalf("sync url: %s", cfg.Sync.ServerURL)
	}
	if _, ok := res.BackendKeys["bk2"]; !ok {
		t.Fatalf("backend keys not parsed: %v", res.BackendKeys)
	}
	// backend keys double as signing keys
	if _, ok := res.SigningKeys["bk1"]; !ok {
		t.Fatalf("signing keys not derived: %v", res.SigningKeys)
	}
}
