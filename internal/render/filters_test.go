package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-cube-explorer/internal/document"
)

func TestISO8601Duration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "PT0S"},
		{time.Second, "PT1S"},
		{23423 * time.Second, "PT6H30M23S"},
		{4564564556 * time.Second, "P52830DT14H35M56S"},
		{24 * time.Hour, "P1D"},
	}
	for _, tc := range tests {
		if got := ISO8601Duration(tc.in); got != tc.want {
			t.Fatalf("ISO8601Duration(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTimeSince(t *testing.T) {
	now := time.Date(2018, 5, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "just now"},
		{-time.Hour, "just now"},
		{time.Second, "1 second ago"},
		{90 * time.Second, "1 minute ago"},
		{3 * time.Hour, "3 hours ago"},
		{24 * time.Hour, "1 day ago"},
		{15 * 24 * time.Hour, "2 weeks ago"},
		{45 * 24 * time.Hour, "1 month ago"},
		{800 * 24 * time.Hour, "2 years ago"},
	}
	for _, tc := range tests {
		if got := TimeSince(now.Add(-tc.ago), now); got != tc.want {
			t.Fatalf("TimeSince(-%s) = %q, want %q", tc.ago, got, tc.want)
		}
	}
}

func TestQueryValue(t *testing.T) {
	ts := time.Date(2017, 4, 1, 2, 3, 4, 0, time.UTC)
	require.Equal(t, "•", QueryValue(nil))
	require.Equal(t, "•", QueryValue(document.NewNull()))
	require.Equal(t, "2017-04-01 02:03:04", QueryValue(ts))
	require.Equal(t, "-20.502 to -19.6", QueryValue(Range{Begin: -20.502, End: -19.6}))
	require.Equal(t, "2017-04-01 02:03:04 to •", QueryValue(Range{Begin: ts}))
	require.Equal(t, "landsat-8", QueryValue(document.NewString("landsat-8")))
}

func TestMonthNameAndSizes(t *testing.T) {
	require.Equal(t, "Jan", MonthName(1))
	require.Equal(t, "Dec", MonthName(12))
	require.Equal(t, "", MonthName(13))
	require.Equal(t, "1.0 KiB", SizeOf(1024))
	require.Equal(t, "1,234,567", Count(1234567))
}

func TestDatasetLabel(t *testing.T) {
	require.Equal(t, "LS8_label", DatasetLabel("LS8_label", "file:///data/x/ga-metadata.yaml", "id"))
	require.Equal(t, "LS8_OLI_2017", DatasetLabel("", "file:///data/LS8_OLI_2017/ga-metadata.yaml", "id"))
	require.Equal(t, "scene.yaml", DatasetLabel("", "s3://bucket/path/scene.yaml", "id"))
	require.Equal(t, "id", DatasetLabel("", "", "id"))
}

func TestPrintableDataset(t *testing.T) {
	require.Equal(t, "a&amp;b", string(PrintableDataset("a&b", false)))
	require.Equal(t, "<del>a&amp;b</del>", string(PrintableDataset("a&b", true)))
}
