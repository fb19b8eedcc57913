package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestModuleAddsField(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug")

	log := Module("realtime")
	log.Info().Msg("connected")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "realtime", entry["module"])
	assert.Equal(t, "connected", entry["message"])
}

func TestInitFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "nonsense")

	Log.Debug().Msg("hidden")
	Log.Info().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestGormLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug")

	l := NewGormLogger("repository")
	l.Info(context.Background(), "migrating %s", "chats")
	assert.Empty(t, buf.String())

	l.LogMode(gormlogger.Info).Info(context.Background(), "migrating %s", "chats")
	assert.True(t, strings.Contains(buf.String(), "migrating chats"))

	buf.Reset()
	l.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT 1", 1
	}, assert.AnError)
	assert.Empty(t, buf.String())
}
