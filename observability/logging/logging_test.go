package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupEmitsCanonicalKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("vaultd", "test", WithOutput(&buf), WithLevel(slog.LevelDebug))
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.Debug("vault operation", slog.String("op", "stake"))
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "op"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing key %q in %v", key, entry)
		}
	}
	if entry["severity"] != "DEBUG" || entry["service"] != "vaultd" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.log")
	var buf bytes.Buffer
	logger := Setup("vaultd", "", WithOutput(&buf), WithFile(FileConfig{Path: path, MaxSizeMB: 1}))
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.Info("checkpoint saved")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "checkpoint saved") {
		t.Fatalf("file missing log line: %q", data)
	}
}

func TestMasking(t *testing.T) {
	if got := MaskField("hmac_secret", "abc").Value.String(); got != RedactedValue {
		t.Fatalf("secret not masked: %q", got)
	}
	if got := MaskField("bucket", "fee").Value.String(); got != "fee" {
		t.Fatalf("allowlisted key masked: %q", got)
	}
	if got := MaskURL("postgres://vault:pw@db:5432/vault"); got != "postgres://[REDACTED]@db:5432/vault" {
		t.Fatalf("dsn not masked: %q", got)
	}
	if got := MaskURL("file:journal.db"); got != "file:journal.db" {
		t.Fatalf("plain dsn changed: %q", got)
	}
	if got := MaskURL("host=db user=vault password=pw dbname=vault"); got != "host=db user=vault password=[REDACTED] dbname=vault" {
		t.Fatalf("keyword dsn not masked: %q", got)
	}
	if got := MaskField("token", "").Value.String(); got != "" {
		t.Fatalf("empty value should stay empty: %q", got)
	}
	if ParseLevel("warn") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
