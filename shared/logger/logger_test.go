// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	old := log.Writer()
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(old)
		log.SetFlags(flags)
	}()
	fn()
	return buf.String()
}

func decodeEntry(t *testing.T, line string) LogEntry {
	t.Helper()
	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v\n%s", err, line)
	}
	return entry
}

func TestNew(t *testing.T) {
	t.Setenv("INSTANCE_ID", "instance-123")
	l := New("safety-validator")

	if l.Component != "safety-validator" {
		t.Errorf("Component = %q, want safety-validator", l.Component)
	}
	if l.InstanceID != "instance-123" {
		t.Errorf("InstanceID = %q, want instance-123", l.InstanceID)
	}
	if l.Container == "" {
		t.Error("Container should be set from hostname")
	}
}

func TestNewWithoutInstanceID(t *testing.T) {
	t.Setenv("INSTANCE_ID", "")
	l := New("registry")
	if l.InstanceID != "unknown" {
		t.Errorf("InstanceID = %q, want unknown", l.InstanceID)
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
	}{
		{"info", (*Logger).Info, INFO},
		{"error", (*Logger).Error, ERROR},
		{"warn", (*Logger).Warn, WARN},
		{"debug", (*Logger).Debug, DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("test")
			out := captureOutput(t, func() {
				tt.logFunc(l, "user-1", "req-1", "hello", map[string]interface{}{"k": "v"})
			})
			entry := decodeEntry(t, out)

			if entry.Level != tt.level {
				t.Errorf("Level = %q, want %q", entry.Level, tt.level)
			}
			if entry.UserID != "user-1" || entry.RequestID != "req-1" {
				t.Errorf("correlation ids = %q/%q", entry.UserID, entry.RequestID)
			}
			if entry.Message != "hello" {
				t.Errorf("Message = %q", entry.Message)
			}
			if entry.Fields["k"] != "v" {
				t.Errorf("Fields = %v", entry.Fields)
			}
		})
	}
}

func TestInfoWithDuration(t *testing.T) {
	l := New("test")
	out := captureOutput(t, func() {
		l.InfoWithDuration("", "req-9", "action executed", 42.5, nil)
	})
	entry := decodeEntry(t, out)

	if entry.Fields["duration_ms"] != 42.5 {
		t.Errorf("duration_ms = %v, want 42.5", entry.Fields["duration_ms"])
	}
	if entry.UserID != "" {
		t.Errorf("UserID should be omitted, got %q", entry.UserID)
	}
}

func TestErrorWithCode(t *testing.T) {
	l := New("test")
	out := captureOutput(t, func() {
		l.ErrorWithCode("user-2", "req-2", "dispatch failed", 502, errFake, nil)
	})
	entry := decodeEntry(t, out)

	if entry.Level != ERROR {
		t.Errorf("Level = %q, want ERROR", entry.Level)
	}
	if entry.Fields["status_code"] != float64(502) {
		t.Errorf("status_code = %v, want 502", entry.Fields["status_code"])
	}
	if entry.Fields["error"] != errFake.Error() {
		t.Errorf("error = %v", entry.Fields["error"])
	}
}

type fakeError struct{}

func (fakeError) Error() string { return "boom" }

var errFake = fakeError{}

func TestOmitsEmptyCorrelationIDs(t *testing.T) {
	l := New("test")
	out := captureOutput(t, func() {
		l.Info("", "", "no context", nil)
	})
	if strings.Contains(out, "user_id") || strings.Contains(out, "request_id") {
		t.Errorf("empty correlation ids should be omitted: %s", out)
	}
}
