package clowdflare

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigureLogging(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "clowdflare.log")

	var stderr bytes.Buffer
	l, closer, err := configureLogging(&Config{
		LogLevel:     zerolog.InfoLevel,
		LogPretty:    false,
		LogFile:      fn,
		LogFileLevel: zerolog.DebugLevel,
	}, &stderr, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Debug().Str("host", "example.com").Msg("checked host")
	l.Info().Int("hosts", 1).Msg("checking hosts")
	if err := closer(); err != nil {
		t.Fatalf("close log file: %v", err)
	}

	if s := stderr.String(); strings.Contains(s, "checked host") || !strings.Contains(s, "checking hosts") {
		t.Errorf("incorrect stderr level filtering: %q", s)
	}

	buf, err := os.ReadFile(fn)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	ls := strings.Split(strings.TrimSpace(string(buf)), "\n")
	if len(ls) != 2 {
		t.Fatalf("expected 2 log lines, got %q", ls)
	}
	var obj struct {
		Level   string `json:"level"`
		Host    string `json:"host"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(ls[0]), &obj); err != nil {
		t.Fatalf("invalid json log line %q: %v", ls[0], err)
	}
	if obj.Level != "debug" || obj.Host != "example.com" || obj.Message != "checked host" {
		t.Errorf("incorrect log line %+v", obj)
	}
}

func TestConfigureLoggingPretty(t *testing.T) {
	var stderr bytes.Buffer
	l, _, err := configureLogging(&Config{
		LogLevel:  zerolog.WarnLevel,
		LogPretty: true,
	}, &stderr, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Info().Msg("hidden")
	l.Warn().Str("path", "/tmp/ips-v4").Msg("using stale cache")

	s := stderr.String()
	if strings.Contains(s, "hidden") {
		t.Errorf("info message was not filtered: %q", s)
	}
	if !strings.Contains(s, "using stale cache") || !strings.Contains(s, "path=/tmp/ips-v4") {
		t.Errorf("incorrect pretty output %q", s)
	}
	if strings.Contains(s, "\x1b[") {
		t.Errorf("unexpected color codes in %q", s)
	}
}
