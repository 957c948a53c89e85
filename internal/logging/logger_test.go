package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != INFO {
		t.Errorf("Expected Level=INFO, got %v", config.Level)
	}
	if !config.EnableConsole {
		t.Error("Expected EnableConsole=true")
	}
	if !config.RedactSensitive {
		t.Error("Expected RedactSensitive=true")
	}
	if config.MaxFileSize != 100*1024*1024 {
		t.Errorf("Expected MaxFileSize=104857600, got %v", config.MaxFileSize)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DEBUG},
		{"warn", WARN},
		{"error", ERROR},
		{"info", INFO},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	config := LogConfig{
		Level:         INFO,
		EnableConsole: true,
		OutputFile:    "",
	}

	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	t.Cleanup(func() {
		logger.Close()
	})

	if _, ok := logger.(*ConsoleLogger); !ok {
		t.Errorf("Expected ConsoleLogger, got %T", logger)
	}
}

func TestNewLogger_NoOutputs(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: INFO})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if _, ok := logger.(*NoOpLogger); !ok {
		t.Errorf("Expected NoOpLogger, got %T", logger)
	}
}

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{
		Writer: &buf,
		Level:  WARN,
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("Messages below WARN should be filtered, got: %s", output)
	}
	if !strings.Contains(output, "warn message") {
		t.Errorf("WARN message missing, got: %s", output)
	}
}

func TestConsoleLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{
		Writer:          &buf,
		Level:           INFO,
		RedactSensitive: true,
	})

	logger.Info("got header Bearer abc123secret")

	output := buf.String()
	if strings.Contains(output, "abc123secret") {
		t.Errorf("Bearer token not redacted: %s", output)
	}
	if !strings.Contains(output, "[REDACTED]") {
		t.Errorf("Expected [REDACTED] marker, got: %s", output)
	}
}

func TestFileLogger_WritesJSONLines(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "test.log")

	logger, err := NewFileLogger(FileLoggerConfig{
		FilePath: logPath,
		Level:    INFO,
	})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	logger.Info("hello", F("account", "abcd1234"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if entry.Message != "hello" {
		t.Errorf("Message = %q, want hello", entry.Message)
	}
	if entry.Fields["account"] != "abcd1234" {
		t.Errorf("Fields[account] = %v, want abcd1234", entry.Fields["account"])
	}
}

func TestMultiLogger_LogsToAll(t *testing.T) {
	var buf1, buf2 bytes.Buffer

	logger1 := NewConsoleLogger(ConsoleLoggerConfig{
		Writer: &buf1,
		Level:  INFO,
	})
	logger2 := NewConsoleLogger(ConsoleLoggerConfig{
		Writer: &buf2,
		Level:  INFO,
	})

	multi := NewMultiLogger(logger1, logger2)
	multi.Info("test message")

	if buf1.String() == "" {
		t.Error("First logger didn't receive message")
	}
	if buf2.String() == "" {
		t.Error("Second logger didn't receive message")
	}
	if buf1.String() != buf2.String() {
		t.Errorf("Loggers produced different output:\n%s\n%s", buf1.String(), buf2.String())
	}
}
