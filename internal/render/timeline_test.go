package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTimeline_HeightsAndGapFilling(t *testing.T) {
	counts := map[time.Time]int{
		day(2018, 1, 1): 2,
		day(2018, 1, 4): 8,
		day(2018, 1, 3): 4,
	}
	bars := Timeline(counts, "day", func(t time.Time) string { return "/ls8/" + t.Format("2006/1/2") })

	require.Len(t, bars, 4)
	require.Equal(t, day(2018, 1, 2), bars[1].Start)
	require.Equal(t, 0, bars[1].Count)
	require.Equal(t, 0.0, bars[1].HeightPercent)
	require.Equal(t, 25.0, bars[0].HeightPercent)
	require.Equal(t, 50.0, bars[2].HeightPercent)
	require.Equal(t, 100.0, bars[3].HeightPercent)
	require.Equal(t, "/ls8/2018/1/4", bars[3].Link)
	require.Equal(t, "4 Jan 2018", bars[3].Label)
}

func TestTimeline_MonthsAndEmpty(t *testing.T) {
	require.Nil(t, Timeline(nil, "day", nil))

	bars := Timeline(map[time.Time]int{day(2017, 11, 1): 0, day(2018, 2, 1): 0}, "month", nil)
	require.Len(t, bars, 4)
	for _, b := range bars {
		require.Equal(t, 0.0, b.HeightPercent)
		require.Empty(t, b.Link)
	}
	require.Equal(t, "Dec 2017", bars[1].Label)
}
