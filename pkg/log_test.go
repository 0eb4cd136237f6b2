package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLogLevel(t *testing.T) {
	orig := GetLogLevel()
	defer SetLogLevel(orig)

	SetLogLevel(zapcore.DebugLevel)
	assert.Equal(t, zapcore.DebugLevel, GetLogLevel())
}

func TestSetLogFormat(t *testing.T) {
	orig := DefaultLogger
	defer SetLogger(orig)

	SetLogFormat(LogFormatJSON)
	assert.NotNil(t, DefaultLogger)

	// logging through the component helpers must not panic regardless
	// of format.
	LogDebug(ComponentCache, "test debug")
	LogInfo(ComponentRouting, "test info")
	LogWarn(ComponentHDM, "test warn")
	LogError(ComponentFabric, "test error")
}
