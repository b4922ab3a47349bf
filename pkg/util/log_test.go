package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWithFileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gateway.log")

	logger, err := NewLoggerWithFile(path)
	if err != nil {
		t.Fatalf("NewLoggerWithFile: %v", err)
	}
	logger.Sugar().Infow("subscription_opened", "id", "abc", "token", "ETH")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"subscription_opened"`, `"token":"ETH"`, `"level":"INFO"`, `"ts":`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestNewLoggerWithFileEmptyPath(t *testing.T) {
	logger, err := NewLoggerWithFile("")
	if err != nil {
		t.Fatalf("NewLoggerWithFile(\"\"): %v", err)
	}
	if logger == nil {
		t.Fatal("logger is nil")
	}
}
