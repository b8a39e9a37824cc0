package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dama.log")
	l, err := New(Options{Level: zapcore.InfoLevel, ToFile: true, File: path, Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("dama_hidden")
	l.Info("dama_move", zap.String("game_id", "g-1"))
	_ = l.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(raw)
	if !strings.Contains(out, `"msg":"dama_move"`) || !strings.Contains(out, `"game_id":"g-1"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if strings.Contains(out, "dama_hidden") {
		t.Fatalf("debug line leaked at info level")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("LOG_FILE", "")
	o := OptionsFromEnv()
	if o.Level != zapcore.WarnLevel || o.Format != "legacy" || o.File != filepath.Join("logs", "dama.log") {
		t.Fatalf("unexpected options: %+v", o)
	}
}
