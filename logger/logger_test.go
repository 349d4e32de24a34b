package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/logger"
)

func TestNew(t *testing.T) {
	log, err := logger.New(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = logger.New(config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))

	_, err = logger.New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
