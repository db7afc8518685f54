package debug

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		_ = Close()
		SetOutput(os.Stdout)
		Init(LevelOff)
	})
	return &buf
}

func TestLevelOff_NoOutput(t *testing.T) {
	buf := captureOutput(t, LevelOff)
	Info("hidden %d", 1)
	Error(errors.New("hidden"))
	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
}

func TestLevelGating(t *testing.T) {
	buf := captureOutput(t, LevelLive)
	Info("info line")
	Live("live line")
	Verbose("verbose line")
	Trace("trace line")

	out := buf.String()
	if !strings.Contains(out, "info line") || !strings.Contains(out, "live line") {
		t.Errorf("info/live lines missing: %q", out)
	}
	if strings.Contains(out, "verbose line") || strings.Contains(out, "trace line") {
		t.Errorf("verbose/trace lines should be filtered at level 2: %q", out)
	}
}

func TestIsEnabled(t *testing.T) {
	captureOutput(t, LevelVerbose)
	if !IsEnabled(LevelInfo) || !IsEnabled(LevelVerbose) {
		t.Error("levels <= 3 should be enabled")
	}
	if IsEnabled(LevelTrace) {
		t.Error("trace should be disabled at level 3")
	}
	if Level() != LevelVerbose {
		t.Errorf("Level() = %d, want %d", Level(), LevelVerbose)
	}
}

func TestSaved_HasFields(t *testing.T) {
	buf := captureOutput(t, LevelInfo)
	Saved("left", "/tmp/x.jpg")
	out := buf.String()
	if !strings.Contains(out, "step=left") || !strings.Contains(out, "file=/tmp/x.jpg") {
		t.Errorf("structured fields missing: %q", out)
	}
}

type recordingHook struct {
	entries []*logrus.Entry
}

func (h *recordingHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *recordingHook) Fire(e *logrus.Entry) error {
	h.entries = append(h.entries, e)
	return nil
}

func TestAddHook(t *testing.T) {
	captureOutput(t, LevelInfo)
	h := &recordingHook{}
	AddHook(h)
	Info("hooked")
	if len(h.entries) != 1 || h.entries[0].Message != "hooked" {
		t.Errorf("hook entries = %v, want one \"hooked\"", h.entries)
	}
}

func TestInitFile(t *testing.T) {
	captureOutput(t, LevelInfo)
	path := filepath.Join(t.TempDir(), "logs", "ptzgo.log")
	if err := InitFile(path); err != nil {
		t.Fatalf("InitFile: %v", err)
	}
	Info("to file")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing line: %q", data)
	}
}

func TestInitFile_EmptyPath(t *testing.T) {
	if err := InitFile(""); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}
