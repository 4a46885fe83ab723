package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("relay")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("lane started", "name", "input")

	out := buf.String()
	if !strings.Contains(out, `msg="lane started"`) {
		t.Fatalf("expected plain message, got: %s", out)
	}
	if !strings.Contains(out, "component=relay") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "name=input") {
		t.Fatalf("expected name field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormatAndClientField(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)

	WithClient(L("server"), "c-1").Debug("connected")

	out := buf.String()
	if !strings.Contains(out, `"clientId":"c-1"`) {
		t.Fatalf("expected clientId in json output, got: %s", out)
	}
	if !strings.Contains(out, `"component":"server"`) {
		t.Fatalf("expected component in json output, got: %s", out)
	}
}

func TestSwitchingFormatsKeepsLogging(t *testing.T) {
	logger := L("broadcaster")
	for _, format := range []string{"text", "json", "text", "json"} {
		var buf bytes.Buffer
		Init(format, "info", &buf)
		logger.Info("tick")
		if !strings.Contains(buf.String(), "broadcaster") {
			t.Fatalf("format %s: expected component in output, got: %s", format, buf.String())
		}
	}
	Init("text", "info", os.Stdout)
}

func TestSetLevelAppliesToExistingLoggers(t *testing.T) {
	logger := L("relay")
	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Debug("before")
	SetLevel("debug")
	if Level() != slog.LevelDebug {
		t.Fatalf("Level() = %v, want debug", Level())
	}
	logger.Debug("after")
	Init("text", "info", os.Stdout)

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Fatalf("debug line logged at info level: %s", out)
	}
	if !strings.Contains(out, "after") {
		t.Fatalf("debug line missing after SetLevel: %s", out)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should never return nil")
	}
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if got := FromContext(NewContext(context.Background(), custom)); got != custom {
		t.Fatal("FromContext should return the logger stored in the context")
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screenhost.log")

	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected first backup to exist: %v", err)
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Fatal("backups beyond maxBackups should not exist")
	}
}
