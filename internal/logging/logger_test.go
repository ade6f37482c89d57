package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/sachin-iam/sortify/internal/config"
	"github.com/sachin-iam/sortify/internal/logging"
)

func newConfig(t *testing.T, overrides map[string]string) *config.Config {
	t.Helper()
	v := config.NewEmptyViper()
	for key, value := range overrides {
		v.Set(key, value)
	}
	return config.NewFromViper(v)
}

func TestInitLoggerDefaultsToInfo(t *testing.T) {
	logger, err := logging.InitLogger(newConfig(t, nil))
	require.NoError(t, err)

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestInitLoggerHonorsLevel(t *testing.T) {
	logger, err := logging.InitLogger(newConfig(t, map[string]string{
		"logging.level":  "debug",
		"logging.format": "console",
	}))
	require.NoError(t, err)

	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestInitLoggerFallsBackOnBadLevel(t *testing.T) {
	logger, err := logging.InitLogger(newConfig(t, map[string]string{
		"logging.level": "shouting",
	}))
	require.NoError(t, err)

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestInitConsoleLoggerVerbose(t *testing.T) {
	quiet, err := logging.InitConsoleLogger(false, false)
	require.NoError(t, err)
	assert.False(t, quiet.Core().Enabled(zapcore.DebugLevel))

	verbose, err := logging.InitConsoleLogger(true, true)
	require.NoError(t, err)
	assert.True(t, verbose.Core().Enabled(zapcore.DebugLevel))
}
