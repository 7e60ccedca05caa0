package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

var fieldboxKeys = []string{
	"FIELDBOX_ADDR", "FIELDBOX_DB_PATH", "FIELDBOX_ENDPOINT", "FIELDBOX_APP_VERSION",
	"FIELDBOX_WRITE_ACTION", "FIELDBOX_DEFAULT_LOT", "FIELDBOX_DEFAULT_LOT_CODE",
	"FIELDBOX_SYNC_INTERVAL", "FIELDBOX_STARTUP_DELAY", "FIELDBOX_HTTP_TIMEOUT",
	"FIELDBOX_PROBE_URL", "FIELDBOX_PROBE_INTERVAL", "FIELDBOX_START_ONLINE",
	"FIELDBOX_ASSET_ORIGIN", "FIELDBOX_ASSET_DIR", "FIELDBOX_ASSET_VERSION",
	"FIELDBOX_OFFLINE_PAGE", "FIELDBOX_CORS_ORIGINS", "FIELDBOX_LOG_LEVEL",
	"FIELDBOX_LOG_FORMAT", "FIELDBOX_CONFIG",
}

// cleanEnv clears every fieldbox variable and runs the test in an empty
// working directory so no stray .env file is picked up.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range fieldboxKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	// Equivalent of t.Chdir (Go 1.24+), which the go1.21 toolchain lacks.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadEnvFiles(t *testing.T) {
	cleanEnv(t)

	content := `# comment line
FIELDBOX_ENDPOINT=https://script.example.com/exec
FIELDBOX_DEFAULT_LOT="Lote 08"
FIELDBOX_DEFAULT_LOT_CODE='LT08'

FIELDBOX_APP_VERSION=2.3.1
`
	if err := os.WriteFile(".env", []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	LoadEnvFiles(".env")

	tests := []struct {
		key  string
		want string
	}{
		{"FIELDBOX_ENDPOINT", "https://script.example.com/exec"},
		{"FIELDBOX_DEFAULT_LOT", "Lote 08"},
		{"FIELDBOX_DEFAULT_LOT_CODE", "LT08"},
		{"FIELDBOX_APP_VERSION", "2.3.1"},
	}
	for _, tt := range tests {
		if got := os.Getenv(tt.key); got != tt.want {
			t.Errorf("os.Getenv(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLoadEnvFiles_RealEnvTakesPrecedence(t *testing.T) {
	cleanEnv(t)

	if err := os.WriteFile(".env", []byte("FIELDBOX_ENDPOINT=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FIELDBOX_ENDPOINT", "from-env")

	LoadEnvFiles(".env")

	if got := os.Getenv("FIELDBOX_ENDPOINT"); got != "from-env" {
		t.Errorf("env var = %q, want %q (real env should take precedence)", got, "from-env")
	}
}

func TestLoadEnvFiles_LocalBeatsShared(t *testing.T) {
	cleanEnv(t)

	os.WriteFile(".env", []byte("FIELDBOX_DEFAULT_LOT=shared\n"), 0644)
	os.WriteFile(".env.local", []byte("FIELDBOX_DEFAULT_LOT=local\n"), 0644)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultLot != "local" {
		t.Errorf("DefaultLot = %q, want %q", cfg.DefaultLot, "local")
	}
}

func TestLoadEnvFiles_MissingFile(t *testing.T) {
	LoadEnvFiles("/nonexistent/path/.env.local")
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Defaults()) {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, Defaults())
	}
	if cfg.Addr != "127.0.0.1:8787" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, "127.0.0.1:8787")
	}
	if cfg.SyncInterval != 60*time.Second {
		t.Errorf("SyncInterval = %v, want 60s", cfg.SyncInterval)
	}
	if cfg.StartupDelay != 2*time.Second {
		t.Errorf("StartupDelay = %v, want 2s", cfg.StartupDelay)
	}
	if cfg.WriteAction != "gravar_linha" {
		t.Errorf("WriteAction = %q, want gravar_linha", cfg.WriteAction)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	cleanEnv(t)

	yamlDoc := `
endpoint: https://yaml.example.com/exec
write_action: gravar_linha_lt08
sync_interval: 5m
default_lot: Lote 08
cors_origins:
  - https://app.example.com
log_format: text
`
	path := filepath.Join(t.TempDir(), "fieldbox.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FIELDBOX_SYNC_INTERVAL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "https://yaml.example.com/exec" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.WriteAction != "gravar_linha_lt08" {
		t.Errorf("WriteAction = %q", cfg.WriteAction)
	}
	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("SyncInterval = %v, want env override 90s", cfg.SyncInterval)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"https://app.example.com"}) {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if cfg.StartupDelay != 2*time.Second {
		t.Errorf("StartupDelay = %v, want default kept", cfg.StartupDelay)
	}
}

func TestLoad_ConfigFromEnvVar(t *testing.T) {
	cleanEnv(t)

	path := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(path, []byte("db_path: /var/lib/fieldbox/outbox.db\n"), 0644)
	t.Setenv("FIELDBOX_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/var/lib/fieldbox/outbox.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	cleanEnv(t)
	if _, err := Load("/nonexistent/fieldbox.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cleanEnv(t)
	t.Setenv("FIELDBOX_LOG_FORMAT", "xml")
	if _, err := Load(""); err == nil {
		t.Error("expected error for unknown log format")
	}
}

func TestEnvDuration_Invalid(t *testing.T) {
	t.Setenv("TEST_DUR_INVALID", "not-a-duration")

	got := envDuration("TEST_DUR_INVALID", 5*time.Second)
	if got != 5*time.Second {
		t.Errorf("envDuration with invalid value = %v, want fallback 5s", got)
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"", true, true},
		{"false", true, false},
		{"1", false, true},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		if got := envBool("TEST_BOOL", tt.fallback); got != tt.want {
			t.Errorf("envBool(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.want)
		}
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example.com, ,https://b.example.com ")
	got := envList("TEST_LIST", nil)
	want := []string{"https://a.example.com", "https://b.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("envList = %v, want %v", got, want)
	}
}
