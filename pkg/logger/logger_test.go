package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xscraper/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug json", &config.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && l == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.level)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
		if got != tt.expected {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.expected)
		}
	}
}

func TestFieldsAreCarried(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	require.NoError(t, err)

	l.WithField("keyword", "golang").
		WithFields(map[string]interface{}{"attempt": 2, "delay": 1500 * time.Millisecond}).
		WithError(errors.New("dial tcp: timeout")).
		InfoWithFields("attempt failed", map[string]interface{}{"identity": "alice"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "attempt failed", entry["message"])
	assert.Equal(t, "golang", entry["keyword"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "1.5s", entry["delay"])
	assert.Equal(t, "alice", entry["identity"])
	assert.Equal(t, "dial tcp: timeout", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "warn")
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.True(t, strings.Contains(out, "shown"))
}

func TestTestLoggerCapturesDerivedFields(t *testing.T) {
	tl := NewTestLogger()
	derived := tl.WithField("keyword", "golang").WithError(errors.New("boom"))

	derived.WarnWithFields("fragment skipped", map[string]interface{}{"index": 3})
	tl.Info("plain")

	msgs := tl.GetMessagesByLevel("WARN")
	require.Len(t, msgs, 1)
	assert.Equal(t, "golang", msgs[0].Fields["keyword"])
	assert.Equal(t, 3, msgs[0].Fields["index"])
	assert.EqualError(t, msgs[0].Error, "boom")
	assert.True(t, tl.HasMessage("plain"))

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	defer SetLogger(nil)

	SetLogger(nil)
	assert.NotNil(t, GetLogger())

	tl := NewTestLogger()
	SetLogger(tl)
	WithField("component", "test").Info("hello")
	assert.True(t, tl.HasMessage("hello"))
}
