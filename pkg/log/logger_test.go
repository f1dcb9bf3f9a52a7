package log

import (
	"strings"
	"sync"
	"testing"
)

type captureOutput struct {
	mu    sync.Mutex
	lines []string
}

func (o *captureOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, string(formatted))
	return nil
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"info":    InfoLevel,
		"":        InfoLevel,
		"WARN":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("shout"); err == nil {
		t.Error("ParseLevel accepted an unknown level")
	}
}

func TestLevelFiltering(t *testing.T) {
	out := &captureOutput{}
	logger := NewLogger(WithLevel(WarnLevel), WithOutput(out))

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	logger.Error("also kept")

	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.lines) != 2 {
		t.Fatalf("lines = %d: %v", len(out.lines), out.lines)
	}
}

func TestWithFields(t *testing.T) {
	out := &captureOutput{}
	logger := NewLogger(WithOutput(out)).With(Str("component", "test"))

	logger.Info("hello", Int("n", 7))

	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.lines) != 1 {
		t.Fatalf("lines = %v", out.lines)
	}
	line := out.lines[0]
	if !strings.Contains(line, "component=test") || !strings.Contains(line, "n=7") {
		t.Fatalf("line = %q", line)
	}
}

func TestSetLevel(t *testing.T) {
	out := &captureOutput{}
	logger := NewLogger(WithOutput(out))
	logger.SetLevel(ErrorLevel)
	if logger.Level() != ErrorLevel {
		t.Fatalf("level = %v", logger.Level())
	}
	logger.Info("dropped")
	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.lines) != 0 {
		t.Fatalf("lines = %v", out.lines)
	}
}
