package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func load(t *testing.T, configPath string, args ...string) (Specification, error) {
	t.Helper()
	oldArgs := os.Args
	os.Args = append([]string{"codeask"}, args...)
	t.Cleanup(func() { os.Args = oldArgs })

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	return Load(configPath, fs)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codeask.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "stub" {
		t.Errorf("expected stub provider, got %q", cfg.Provider)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info log level, got %q", cfg.LogLevel)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.TopK != 10 {
		t.Errorf("expected top-k 10, got %d", cfg.TopK)
	}
	if cfg.FetchConcurrency != 8 {
		t.Errorf("expected fetch concurrency 8, got %d", cfg.FetchConcurrency)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "provider: openai\nport: 9090\ntopK: 25\n")

	cfg, err := load(t, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "openai" {
		t.Errorf("expected openai, got %q", cfg.Provider)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.TopK != 25 {
		t.Errorf("expected top-k 25, got %d", cfg.TopK)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "provider: openai\n")
	t.Setenv("CODEASK_PROVIDER", "vertexai")
	t.Setenv("CODEASK_DB_URL", "postgres://env-host:5432/codeask")

	cfg, err := load(t, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "vertexai" {
		t.Errorf("expected env to win over yaml, got %q", cfg.Provider)
	}
	if cfg.Database != "postgres://env-host:5432/codeask" {
		t.Errorf("expected env db url, got %q", cfg.Database)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CODEASK_PROVIDER", "vertexai")
	t.Setenv("CODEASK_PORT", "9000")

	cfg, err := load(t, "", "--provider", "openai", "--port", "7070")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "openai" {
		t.Errorf("expected flag to win over env, got %q", cfg.Provider)
	}
	if cfg.Port != 7070 {
		t.Errorf("expected flag port 7070, got %d", cfg.Port)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := load(t, "/nonexistent/codeask.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	path := writeConfig(t, "database: \"\"\n")
	t.Setenv("CODEASK_DB_URL", "")

	if _, err := load(t, path); err == nil {
		t.Fatal("expected error when database url is blank")
	}
}
