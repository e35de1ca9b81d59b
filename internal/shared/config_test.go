package shared

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "tdx.db" {
			t.Errorf("expected database path tdx.db, got %s", config.Database.Path)
		}

		if config.Sync.MaxConcurrent != 10 {
			t.Errorf("expected max_concurrent 10, got %d", config.Sync.MaxConcurrent)
		}

		if config.Sync.RatePerSecond != 10.0 {
			t.Errorf("expected rate_per_second 10.0, got %f", config.Sync.RatePerSecond)
		}

		if config.Credentials.Tidal.CountryCode != "US" {
			t.Errorf("expected tidal country_code US, got %s", config.Credentials.Tidal.CountryCode)
		}

		if config.Credentials.Spotify.RedirectURI != "http://localhost:8888/callback" {
			t.Errorf("expected spotify redirect_uri http://localhost:8888/callback, got %s", config.Credentials.Spotify.RedirectURI)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"
max_open_conns = 20
max_idle_conns = 10

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"
redirect_uri = "http://localhost:9999/callback"

[credentials.tidal]
access_token = "test_token"
user_id = "12345"
country_code = "DE"

[sync]
max_concurrent = 4
rate_per_second = 2.5
max_retries = 5
item_limit = 100
library_dir = "/tmp/library"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Credentials.Spotify.ClientID != "test_client_id" {
			t.Errorf("expected spotify client_id test_client_id, got %s", config.Credentials.Spotify.ClientID)
		}

		if config.Credentials.Tidal.CountryCode != "DE" {
			t.Errorf("expected tidal country_code DE, got %s", config.Credentials.Tidal.CountryCode)
		}

		if config.Sync.RatePerSecond != 2.5 {
			t.Errorf("expected rate_per_second 2.5, got %f", config.Sync.RatePerSecond)
		}

		if config.Sync.ItemLimit != 100 {
			t.Errorf("expected item_limit 100, got %d", config.Sync.ItemLimit)
		}
	})

	t.Run("LoadConfigMissingFile", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
			t.Error("loading a missing config file should fail")
		}
	})
}
