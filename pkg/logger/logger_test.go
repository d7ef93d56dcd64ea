package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wonny/aegis/exitengine/pkg/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewWithWriter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Env: "development", LogLevel: "debug", LogFormat: "json"}, &buf)

	log.Component("emitter").
		ForPosition("p-1", "005930").
		WithField("reason", "TP1").
		WithError(errors.New("boom")).
		Warn("intent dropped")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output: %v", err)
	}

	want := map[string]interface{}{
		"level":       "warn",
		"message":     "intent dropped",
		"component":   "emitter",
		"position_id": "p-1",
		"symbol":      "005930",
		"reason":      "TP1",
		"error":       "boom",
		"service":     "exit-engine",
		"env":         "development",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %q = %v, want %v", k, entry[k], v)
		}
	}
}

func TestNop_DiscardsOutput(t *testing.T) {
	log := Nop()
	log.WithField("k", "v").Info("ignored")
	log.Errorf("ignored %d", 1)
}
