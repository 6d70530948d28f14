package pg

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPgxZapLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &pgxZapLogger{logger: zap.New(core)}

	l.Log(context.Background(), tracelog.LogLevelTrace, "Query", map[string]interface{}{"sql": "SELECT 1"})
	l.Log(context.Background(), tracelog.LogLevelWarn, "slow", nil)
	l.Log(context.Background(), tracelog.LogLevelError, "Exec", map[string]interface{}{"err": "boom"})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "[SQL] Query", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "SELECT 1", entries[0].ContextMap()["sql"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestNewPoolRejectsBadDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://%zz", 0, 0, 0, nil)
	assert.Error(t, err)
}
