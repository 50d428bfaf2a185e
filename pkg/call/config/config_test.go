package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromMap_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := FromMap(nil)
	if err != nil {
		t.Fatalf("FromMap() error = %v", err)
	}
	if cfg.APIURL != "http://localhost:5001" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
	if cfg.SocketURL != "ws://localhost:5001/ws" {
		t.Fatalf("SocketURL = %q", cfg.SocketURL)
	}
	if cfg.ConnectTimeout != 15*time.Second || cfg.WriteTimeout != 5*time.Second || cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("timeouts = %v %v %v", cfg.ConnectTimeout, cfg.WriteTimeout, cfg.HTTPTimeout)
	}
	if cfg.MicSampleRate != 16000 || cfg.MicChannels != 1 || cfg.PlaybackSampleRate != 24000 {
		t.Fatalf("audio = %d/%d/%d", cfg.MicSampleRate, cfg.MicChannels, cfg.PlaybackSampleRate)
	}
	if cfg.MetricsAddr != "" || cfg.UserName != "Caller" {
		t.Fatalf("MetricsAddr = %q UserName = %q", cfg.MetricsAddr, cfg.UserName)
	}
}

func TestFromMap_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := FromMap(map[string]string{
		"VAI_CALL_API_URL":         "https://api.example.com/v1/",
		"VAI_CALL_USER_ID":         "user-42",
		"VAI_CALL_CONNECT_TIMEOUT": "3s",
		"VAI_CALL_LOG_LEVEL":       "debug",
	})
	if err != nil {
		t.Fatalf("FromMap() error = %v", err)
	}
	if cfg.APIURL != "https://api.example.com/v1" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
	if cfg.SocketURL != "wss://api.example.com/v1/ws" {
		t.Fatalf("SocketURL = %q", cfg.SocketURL)
	}
	if cfg.UserID != "user-42" || cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if lvl, _ := ParseLevel(cfg.LogLevel); lvl != slog.LevelDebug {
		t.Fatalf("level = %v", lvl)
	}
}

func TestFromMap_ValidationNamesVariable(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]string{
		"VAI_CALL_API_URL":            {"VAI_CALL_API_URL": "ftp://example.com"},
		"VAI_CALL_SOCKET_URL":         {"VAI_CALL_SOCKET_URL": "http://example.com/ws"},
		"VAI_CALL_WRITE_TIMEOUT":      {"VAI_CALL_WRITE_TIMEOUT": "0s"},
		"VAI_CALL_MIC_CHANNELS":       {"VAI_CALL_MIC_CHANNELS": "6"},
		"VAI_CALL_MIC_SAMPLE_RATE_HZ": {"VAI_CALL_MIC_SAMPLE_RATE_HZ": "1000"},
		"VAI_CALL_LOG_LEVEL":          {"VAI_CALL_LOG_LEVEL": "loud"},
	}
	for name, vars := range cases {
		_, err := FromMap(vars)
		if err == nil || !strings.Contains(err.Error(), name) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	data := "VAI_CALL_USER_ID=from-file\nVAI_CALL_USER_NAME=File Caller\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("VAI_CALL_USER_ID", "from-env")
	t.Setenv("VAI_CALL_USER_NAME", "")
	os.Unsetenv("VAI_CALL_USER_NAME")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.UserID != "from-env" {
		t.Fatalf("UserID = %q, want from-env", cfg.UserID)
	}
	if cfg.UserName != "File Caller" {
		t.Fatalf("UserName = %q, want File Caller", cfg.UserName)
	}

	if _, err := Load(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing dotenv should be ignored: %v", err)
	}
}
