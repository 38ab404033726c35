package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 8080\n")
	t.Chdir(filepath.Dir(path))

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TOGETHER_API_KEY", "")
	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Listen.Port, DefaultPort)
	}
	if cfg.Models.Default != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.Models.Default, DefaultModel)
	}
	if cfg.Models.Temperature == nil || *cfg.Models.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", cfg.Models.Temperature)
	}
	if cfg.Models.MaxTokens != 1024 {
		t.Errorf("max_tokens = %d, want 1024", cfg.Models.MaxTokens)
	}
	if cfg.Models.MaxTurns != 5 {
		t.Errorf("max_turns = %d, want 5", cfg.Models.MaxTurns)
	}
	if cfg.Context.MaxTokens != 6000 {
		t.Errorf("context.max_tokens = %d, want 6000", cfg.Context.MaxTokens)
	}
	if cfg.OpenAI.BaseURL != DefaultOpenAIBaseURL {
		t.Errorf("openai.base_url = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.RateLimit.Requests != 100 || cfg.RateLimit.Window != 15*time.Minute {
		t.Errorf("rate_limit = %+v", cfg.RateLimit)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "http://localhost:5173" {
		t.Errorf("cors = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path == "" {
		t.Errorf("database = %+v", cfg.Database)
	}
}

func TestLoad_ZeroTemperatureKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "models:\n  temperature: 0\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Models.Temperature == nil || *cfg.Models.Temperature != 0 {
		t.Errorf("temperature = %v, want explicit 0", cfg.Models.Temperature)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("SUPPORT_AGENT_TEST_KEY", "secret123")
	cfg, err := Load(writeConfig(t, "openai:\n  api_key: ${SUPPORT_AGENT_TEST_KEY}\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OpenAI.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.OpenAI.APIKey, "secret123")
	}
}

func TestLoad_APIKeyFromEnvironment(t *testing.T) {
	t.Setenv("TOGETHER_API_KEY", "tg-key")
	cfg, err := Load(writeConfig(t, "models:\n  default: some-model\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OpenAI.APIKey != "tg-key" {
		t.Errorf("api_key = %q, want %q", cfg.OpenAI.APIKey, "tg-key")
	}
}

func TestLoad_Durations(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rate_limit:\n  window: 1m\nmodels:\n  retry_backoff: 250ms\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("window = %v, want 1m", cfg.RateLimit.Window)
	}
	if cfg.Models.RetryBackoff != 250*time.Millisecond {
		t.Errorf("retry_backoff = %v, want 250ms", cfg.Models.RetryBackoff)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad provider", "models:\n  provider: bedrock\n", "models.provider"},
		{"bad driver", "database:\n  driver: mysql\n", "database.driver"},
		{"postgres without dsn", "database:\n  driver: postgres\n", "database.dsn"},
		{"bad port", "listen:\n  port: 70000\n", "listen.port"},
		{"bad log level", "log_level: loud\n", "unknown log level"},
		{"bad log format", "log_format: xml\n", "log_format"},
		{"bad yaml", "listen: [\n", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	cfg.Listen.Address = "127.0.0.1"
	cfg.Listen.Port = 9000
	if got := cfg.ListenAddr(); got != "127.0.0.1:9000" {
		t.Errorf("ListenAddr() = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "wire")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected TRACE level name, got %q", buf.String())
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo, "json").Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}
