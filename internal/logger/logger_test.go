package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn")
	require.NoError(t, err)

	log.Info("quiet")
	log.Warn("loud", zap.Int("bytes", 42))
	require.NoError(t, log.Sync())

	out := buf.String()
	require.NotContains(t, out, "quiet")
	require.Contains(t, out, "WARN")
	require.Contains(t, out, "loud")
	require.Contains(t, out, `"bytes": 42`)
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "chatty")
	require.Error(t, err)
}
