package log

import (
	"errors"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedAdapter(t *testing.T) (log.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewKratosAdapter(zap.New(core)), logs
}

func TestKratosAdapter_MessageKey(t *testing.T) {
	adapter, logs := newObservedAdapter(t)

	require.NoError(t, adapter.Log(log.LevelInfo, "msg", "token refreshed", "user_id", int64(7)))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "token refreshed", entries[0].Message)
	assert.Equal(t, int64(7), entries[0].ContextMap()["user_id"])
	_, hasMsg := entries[0].ContextMap()["msg"]
	assert.False(t, hasMsg)
}

func TestKratosAdapter_SanitizesStrings(t *testing.T) {
	adapter, logs := newObservedAdapter(t)

	require.NoError(t, adapter.Log(log.LevelWarn, "msg", "refresh", "refresh_token", "1//0gabcdefgh"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1//0*****efgh", entries[0].ContextMap()["refresh_token"])
}

func TestKratosAdapter_ErrorValues(t *testing.T) {
	adapter, logs := newObservedAdapter(t)

	require.NoError(t, adapter.Log(log.LevelError, "msg", "failed", "error", errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
}

func TestKratosAdapter_Levels(t *testing.T) {
	tests := []struct {
		level log.Level
		want  zapcore.Level
	}{
		{log.LevelDebug, zapcore.DebugLevel},
		{log.LevelInfo, zapcore.InfoLevel},
		{log.LevelWarn, zapcore.WarnLevel},
		{log.LevelError, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			adapter, logs := newObservedAdapter(t)
			require.NoError(t, adapter.Log(tt.level, "msg", "x"))
			require.Len(t, logs.All(), 1)
			assert.Equal(t, tt.want, logs.All()[0].Level)
		})
	}
}

func TestKratosAdapter_EmptyAndUnpaired(t *testing.T) {
	adapter, logs := newObservedAdapter(t)

	assert.NoError(t, adapter.Log(log.LevelInfo))
	assert.Empty(t, logs.All())

	assert.NoError(t, adapter.Log(log.LevelInfo, "msg", "x", "dangling"))
	require.Len(t, logs.All(), 1)
	assert.Equal(t, "KEYVALS UNPAIRED", logs.All()[0].ContextMap()["dangling"])
}
