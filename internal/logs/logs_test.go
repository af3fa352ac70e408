package logs

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewPicksFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "auto").Info("hello", "product", "ls7")
	require.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())

	buf.Reset()
	New(&buf, "info", "text").Info("hello", "product", "ls7")
	require.Contains(t, buf.String(), "product=ls7")

	buf.Reset()
	New(&buf, "warn", "json").Info("dropped")
	require.Empty(t, buf.String())
}

func TestContextLogger(t *testing.T) {
	require.Same(t, slog.Default(), FromContext(context.Background()))

	l := New(&bytes.Buffer{}, "info", "json")
	require.Same(t, l, FromContext(WithLogger(context.Background(), l)))
}
