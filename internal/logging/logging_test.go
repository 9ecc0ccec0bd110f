package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{name: "debug", input: "debug", expected: LevelDebug},
		{name: "info", input: "info", expected: LevelInfo},
		{name: "warn", input: "warn", expected: LevelWarn},
		{name: "warning alias", input: "warning", expected: LevelWarn},
		{name: "error", input: "error", expected: LevelError},
		{name: "case insensitive", input: "DEBUG", expected: LevelDebug},
		{name: "surrounding spaces", input: "  error ", expected: LevelError},
		{name: "unknown defaults to info", input: "verbose", expected: LevelInfo},
		{name: "empty defaults to info", input: "", expected: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogLevelConstants(t *testing.T) {
	if LevelDebug >= LevelInfo {
		t.Error("LevelDebug should be less than LevelInfo")
	}
	if LevelInfo >= LevelWarn {
		t.Error("LevelInfo should be less than LevelWarn")
	}
	if LevelWarn >= LevelError {
		t.Error("LevelWarn should be less than LevelError")
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(42), "unknown(42)"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.expected)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(LevelWarn)
	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")
	Critical("critical message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN should be filtered, got %q", out)
	}
	for _, want := range []string{"[WARN] warn message", "[ERROR] error message", "[CRITICAL] critical message"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestCriticalIgnoresLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(LogLevel(99))
	Error("hidden")
	Critical("store state unknown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("Error should be filtered at level 99")
	}
	if !strings.Contains(buf.String(), "store state unknown") {
		t.Error("Critical should always be printed")
	}
}

func TestSetOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vdotapes.log")

	if err := SetOutputFile(path); err != nil {
		t.Fatalf("SetOutputFile failed: %v", err)
	}
	Critical("written to file")
	if err := CloseOutputFile(); err != nil {
		t.Fatalf("CloseOutputFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file content = %q", string(data))
	}

	// stderr is the sink again
	if log.Writer() != os.Stderr {
		t.Error("CloseOutputFile should restore stderr output")
	}
}

func TestSetOutputFileEmptyPath(t *testing.T) {
	if err := SetOutputFile(""); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}
