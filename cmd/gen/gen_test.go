package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"go-cube-explorer/internal/summary"
)

func TestReporter(t *testing.T) {
	color.NoColor = true

	var out, events bytes.Buffer
	report := reporter(&out, &events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	report(summary.Result{Product: "ls7_nbar_scene", DatasetCount: 12345, Added: 12, Duration: 1500 * time.Millisecond})
	report(summary.Result{Product: "ls8_nbar_scene", Err: errors.New("index unavailable")})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		"ok ls7_nbar_scene: 12,345 datasets, 12 new (1.5s)",
		"FAIL ls8_nbar_scene: index unavailable (0s)",
	}, lines)

	dec := json.NewDecoder(&events)
	var first, second event
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	require.True(t, first.OK)
	require.EqualValues(t, 12345, first.DatasetCount)
	require.False(t, second.OK)
	require.Equal(t, "index unavailable", second.Error)
}
