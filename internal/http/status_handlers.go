package http

import (
	"context"
	nethttp "net/http"
	"time"
)

func servicesStatusHandler(idx indexReader, summaries summaryReader) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
		defer cancel()

		payload := map[string]any{
			"generated_at": time.Now().UTC(),
			"services":     map[string]any{},
		}
		services := payload["services"].(map[string]any)

		services["index"] = indexStatus(ctx, idx)
		services["summary"] = summaryStatus(ctx, summaries)

		writeJSON(w, nethttp.StatusOK, payload)
	}
}

func indexStatus(ctx context.Context, idx indexReader) map[string]any {
	if idx == nil {
		return map[string]any{"enabled": false, "ok": false, "error": "index database integration disabled"}
	}

	start := time.Now()
	stats, err := idx.ServiceStats(ctx)
	recordDBQuery("index", "ServiceStats", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "error": err.Error()}
	}
	return map[string]any{"enabled": true, "ok": true, "stats": stats}
}

func summaryStatus(ctx context.Context, summaries summaryReader) map[string]any {
	if summaries == nil {
		return map[string]any{"enabled": false, "ok": false, "error": "summary store disabled"}
	}

	start := time.Now()
	stats, err := summaries.ServiceStats(ctx)
	recordDBQuery("summary", "ServiceStats", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "error": err.Error()}
	}

	start = time.Now()
	quality, err := summaries.QualityStats(ctx)
	recordDBQuery("summary", "QualityStats", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "stats": stats, "error": err.Error()}
	}
	incomplete := 0
	for _, q := range quality {
		if q.HasProblems() {
			incomplete++
		}
	}
	return map[string]any{
		"enabled":             true,
		"ok":                  true,
		"stats":               stats,
		"incomplete_products": incomplete,
	}
}
