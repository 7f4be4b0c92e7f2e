package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{ModeDebug, ModeProduction, ""} {
		logger, err := New(mode, "")
		require.NoError(t, err, mode)
		assert.NotNil(t, logger)
	}
}

func TestNew_Level(t *testing.T) {
	logger, err := New(ModeProduction, "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(ModeProduction, "loud")
	assert.Error(t, err)
}
