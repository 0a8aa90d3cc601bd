package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"TRACE", LevelTrace, false},
		{"debug", LevelDebug, false},
		{"", LevelInfo, false},
		{"warning", LevelWarning, false},
		{"WARN", LevelWarning, false},
		{"ERROR", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCountersIgnoreSampling(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetSampleRate(1_000_000)
	defer SetSampleRate(1)

	before := RuleErrors.Load()
	beforeTotal := TotalErrors.Load()
	for i := 0; i < 10; i++ {
		RuleError("action failed", "rule_id", "r1")
	}
	assert.Equal(t, before+10, RuleErrors.Load())
	assert.Equal(t, beforeTotal+10, TotalErrors.Load())
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetSampleRate(1)

	ConditionError("condition evaluation failed", "rule_id", "r7", "field", "hp")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "condition evaluation failed", line["msg"])
	assert.Equal(t, "r7", line["rule_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(LevelWarning)
	Info("hidden")
	Debug("hidden")
	assert.Zero(t, buf.Len())
}
