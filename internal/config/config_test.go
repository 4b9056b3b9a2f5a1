package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "archive"

[postgres]
host = "db.internal"

[archive]
interval = "30m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "archive" {
		t.Errorf("Mode = %q, want archive", cfg.Mode)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("Postgres.Host = %q, want db.internal", cfg.Postgres.Host)
	}
	// Untouched values keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres.Port = %d, want default 5432", cfg.Postgres.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want default", cfg.Redis.Addr)
	}
	if got := cfg.Archive.Interval.Duration; got != 30*time.Minute {
		t.Errorf("Archive.Interval = %s, want 30m", got)
	}
	if len(cfg.Registry.QuoteAssets) != 1 || cfg.Registry.QuoteAssets[0].Symbol != "USDC" {
		t.Errorf("QuoteAssets = %+v, want default USDC", cfg.Registry.QuoteAssets)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[redis]
addr = "from-file:6379"
`)

	t.Setenv("CHARTBETS_REDIS_ADDR", "from-env:6379")
	t.Setenv("CHARTBETS_SERVER_PORT", "9001")
	t.Setenv("CHARTBETS_NOTIFY_EVENTS", "market_created,error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Redis.Addr != "from-env:6379" {
		t.Errorf("Redis.Addr = %q, env override lost", cfg.Redis.Addr)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[0] != "market_created" {
		t.Errorf("Notify.Events = %v", cfg.Notify.Events)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.Registry.AdminAddress = "0x1111111111111111111111111111111111111111"
		cfg.Registry.AuthorityAddress = "0x2222222222222222222222222222222222222222"
		cfg.Registry.TreasuryAddress = "0x3333333333333333333333333333333333333333"
		cfg.Authority.EncryptedKeyPath = "authority.key.json"
		cfg.Authority.KeyPassword = "secret"
		return cfg
	}

	t.Run("valid serve config passes", func(t *testing.T) {
		cfg := valid()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("bad mode", func(t *testing.T) {
		cfg := valid()
		cfg.Mode = "trade"
		if err := cfg.Validate(); err == nil {
			t.Fatal("unknown mode accepted")
		}
	})

	t.Run("non-hex admin address", func(t *testing.T) {
		cfg := valid()
		cfg.Registry.AdminAddress = "not-hex"
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "admin_address") {
			t.Fatalf("err = %v, want admin_address complaint", err)
		}
	})

	t.Run("serve requires authority key", func(t *testing.T) {
		cfg := valid()
		cfg.Authority.EncryptedKeyPath = ""
		if err := cfg.Validate(); err == nil {
			t.Fatal("missing authority key accepted in serve mode")
		}
	})

	t.Run("keygen skips registry accounts", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = "keygen"
		cfg.Authority.EncryptedKeyPath = "authority.key.json"
		cfg.Authority.KeyPassword = "secret"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("archive requires s3", func(t *testing.T) {
		cfg := valid()
		cfg.Archive.Enabled = true
		cfg.S3.Bucket = ""
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "bucket") {
			t.Fatalf("err = %v, want bucket complaint", err)
		}
	})

	t.Run("quote asset decimals bounded", func(t *testing.T) {
		cfg := valid()
		cfg.Registry.QuoteAssets = []QuoteAsset{{Symbol: "XYZ", Decimals: 19}}
		if err := cfg.Validate(); err == nil {
			t.Fatal("decimals 19 accepted")
		}
	})
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Authority.KeyPassword = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.AdminToken = "admintoken"

	red := RedactedConfig(&cfg)

	if red.Authority.KeyPassword == "hunter2" {
		t.Error("key password not redacted")
	}
	if red.Postgres.Password == "pgpass" {
		t.Error("postgres password not redacted")
	}
	if red.Redis.Password == "redispass" {
		t.Error("redis password not redacted")
	}
	if red.S3.SecretKey == "s3secret" {
		t.Error("s3 secret not redacted")
	}
	if red.Server.AdminToken == "admintoken" {
		t.Error("admin token not redacted")
	}
	// The original must be untouched.
	if cfg.Postgres.Password != "pgpass" {
		t.Error("Redacted mutated the source config")
	}
}
