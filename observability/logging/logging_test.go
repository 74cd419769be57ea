package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWithFileWritesRotatedJSON(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "oracled.log")
	logger := SetupWithFile("oracled", "test", FileOptions{Path: path, MaxSizeMB: 1})
	logger.Info("started", "block", 12)

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{`"message":"started"`, `"service":"oracled"`, `"severity":"INFO"`} {
		if !strings.Contains(string(contents), want) {
			t.Fatalf("log file missing %s: %s", want, contents)
		}
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("secret", "hunter2").Value.String(); got != RedactedValue {
		t.Fatalf("expected masked value, got %q", got)
	}
	if got := MaskField("secret", "").Value.String(); got != "" {
		t.Fatalf("expected empty value to stay empty, got %q", got)
	}
}

func TestEndpointDropsCredentials(t *testing.T) {
	if got := Endpoint("rpc", "https://user:pw@rpc.example.org/v2/apikey?token=1").Value.String(); got != "https://rpc.example.org" {
		t.Fatalf("unexpected endpoint %q", got)
	}
	if got := Endpoint("rpc", "not a url").Value.String(); got != RedactedValue {
		t.Fatalf("expected unparsable endpoint to be redacted, got %q", got)
	}
}
