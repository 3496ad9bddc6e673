package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env     string
		verbose bool
		debug   bool
	}{
		{"prod", false, false},
		{"prod", true, true},
		{"local", false, false},
		{"dev", true, true},
	}
	for _, tt := range tests {
		log, err := New(tt.env, tt.verbose)
		require.NoError(t, err)
		require.Equal(t, tt.debug, log.Core().Enabled(zapcore.DebugLevel), tt.env)
		require.True(t, log.Core().Enabled(zapcore.InfoLevel))
	}
}
