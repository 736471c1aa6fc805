package xconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidateRejectsZeroTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 0
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	require.Error(t, Validate(cfg))
}
