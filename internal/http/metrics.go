package http

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	appStartedAtUnix = time.Now().Unix()
	inFlightRequests int64
	metricsMu        sync.Mutex
	httpSeries       = map[httpMetricKey]*httpMetricSeries{}
	dbQuerySeries    = map[dbMetricKey]*dbMetricSeries{}
	summarySeries    = map[summaryMetricKey]*summaryMetricSeries{}
	cacheSeries      = map[cacheMetricKey]*cacheMetricSeries{}
)

// sample is one exposition line: a label set and a formatted value.
type sample struct {
	labels string
	value  string
}

// labels renders name/value pairs as a Prometheus label set.
func labels(kv ...string) string {
	if len(kv) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=\"%s\"", kv[i], escapeLabel(kv[i+1]))
	}
	b.WriteByte('}')
	return b.String()
}

func writeFamily(w io.Writer, name, typ, help string, samples []sample) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
	for _, s := range samples {
		_, _ = fmt.Fprintf(w, "%s%s %s\n", name, s.labels, s.value)
	}
}

func one(value string) []sample { return []sample{{value: value}} }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func secs(v float64) string { return strconv.FormatFloat(v, 'f', 9, 64) }

// metricsSnapshot copies every series under the lock, in label order.
type metricsSnapshot struct {
	httpKeys  []httpMetricKey
	http      map[httpMetricKey]httpMetricSeries
	dbKeys    []dbMetricKey
	db        map[dbMetricKey]dbMetricSeries
	summaries map[summaryMetricKey]summaryMetricSeries
	caches    map[cacheMetricKey]cacheMetricSeries
}

func takeSnapshot() metricsSnapshot {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	snap := metricsSnapshot{
		http:      make(map[httpMetricKey]httpMetricSeries, len(httpSeries)),
		db:        make(map[dbMetricKey]dbMetricSeries, len(dbQuerySeries)),
		summaries: make(map[summaryMetricKey]summaryMetricSeries, len(summarySeries)),
		caches:    make(map[cacheMetricKey]cacheMetricSeries, len(cacheSeries)),
	}
	for k, v := range httpSeries {
		snap.httpKeys = append(snap.httpKeys, k)
		snap.http[k] = *v
	}
	for k, v := range dbQuerySeries {
		snap.dbKeys = append(snap.dbKeys, k)
		snap.db[k] = *v
	}
	for k, v := range summarySeries {
		snap.summaries[k] = *v
	}
	for k, v := range cacheSeries {
		snap.caches[k] = *v
	}
	sort.Slice(snap.httpKeys, func(i, j int) bool {
		a, b := snap.httpKeys[i], snap.httpKeys[j]
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Status < b.Status
	})
	sort.Slice(snap.dbKeys, func(i, j int) bool {
		a, b := snap.dbKeys[i], snap.dbKeys[j]
		if a.Connector != b.Connector {
			return a.Connector < b.Connector
		}
		return a.Operation < b.Operation
	})
	return snap
}

func metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		snap := takeSnapshot()

		var requests, durations []sample
		for _, k := range snap.httpKeys {
			lbl := labels("method", k.Method, "path", k.Path, "status", k.Status)
			requests = append(requests, sample{lbl, u64(snap.http[k].Count)})
			durations = append(durations, sample{lbl, secs(snap.http[k].DurationSecondsSum)})
		}
		writeFamily(w, "cube_explorer_http_requests_total", "counter", "HTTP requests by route and status.", requests)
		writeFamily(w, "cube_explorer_http_request_duration_seconds_sum", "counter", "Seconds spent serving requests by route and status.", durations)
		writeFamily(w, "cube_explorer_http_request_duration_seconds_count", "counter", "Requests observed in the duration sum.", requests)
		writeFamily(w, "cube_explorer_http_in_flight_requests", "gauge", "Requests currently being served.",
			one(strconv.FormatInt(atomic.LoadInt64(&inFlightRequests), 10)))

		var dbSum, dbCount, dbErrors []sample
		for _, k := range snap.dbKeys {
			s := snap.db[k]
			lbl := labels("connector", k.Connector, "operation", k.Operation)
			dbSum = append(dbSum, sample{lbl, secs(s.DurationSecondsSum)})
			dbCount = append(dbCount, sample{lbl, u64(s.Count)})
			dbErrors = append(dbErrors, sample{lbl, u64(s.Errors)})
		}
		writeFamily(w, "cube_explorer_db_query_duration_seconds_sum", "counter", "Store query seconds by connector and operation.", dbSum)
		writeFamily(w, "cube_explorer_db_query_duration_seconds_count", "counter", "Store queries by connector and operation.", dbCount)
		writeFamily(w, "cube_explorer_db_query_errors_total", "counter", "Failed store queries by connector and operation.", dbErrors)

		periods := make([]summaryMetricKey, 0, len(snap.summaries))
		for k := range snap.summaries {
			periods = append(periods, k)
		}
		sort.Slice(periods, func(i, j int) bool { return periods[i].Period < periods[j].Period })
		var updates, covered []sample
		for _, k := range periods {
			lbl := labels("period", k.Period)
			updates = append(updates, sample{lbl, u64(snap.summaries[k].Count)})
			covered = append(covered, sample{lbl, u64(snap.summaries[k].Datasets)})
		}
		writeFamily(w, "cube_explorer_summary_updates_total", "counter", "Summaries computed by period type.", updates)
		writeFamily(w, "cube_explorer_summary_datasets_total", "counter", "Datasets covered by computed summaries by period type.", covered)

		caches := make([]cacheMetricKey, 0, len(snap.caches))
		for k := range snap.caches {
			caches = append(caches, k)
		}
		sort.Slice(caches, func(i, j int) bool { return caches[i].Cache < caches[j].Cache })
		var lookups []sample
		for _, k := range caches {
			lookups = append(lookups,
				sample{labels("cache", k.Cache, "result", "hit"), u64(snap.caches[k].Hits)},
				sample{labels("cache", k.Cache, "result", "miss"), u64(snap.caches[k].Misses)})
		}
		writeFamily(w, "cube_explorer_cache_lookups_total", "counter", "Summary cache lookups by cache and result.", lookups)

		uptime := time.Now().Unix() - appStartedAtUnix
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		writeFamily(w, "cube_explorer_uptime_seconds", "gauge", "Seconds since the process started.", one(strconv.FormatInt(uptime, 10)))
		writeFamily(w, "cube_explorer_runtime_goroutines", "gauge", "Live goroutines.", one(strconv.Itoa(runtime.NumGoroutine())))
		writeFamily(w, "cube_explorer_runtime_memory_alloc_bytes", "gauge", "Allocated heap bytes.", one(u64(ms.Alloc)))
		writeFamily(w, "cube_explorer_runtime_gc_total", "counter", "Completed GC cycles.", one(u64(uint64(ms.NumGC))))

		if cpu, ok := processCPUSeconds(); ok {
			writeFamily(w, "cube_explorer_runtime_cpu_seconds_total", "counter", "User and system CPU seconds.",
				one(strconv.FormatFloat(cpu, 'f', 6, 64)))
		}
		if st := processIOStats(); st != nil {
			writeFamily(w, "cube_explorer_runtime_io_read_bytes_total", "counter", "Bytes read from storage.", one(u64(st.ReadBytes)))
			writeFamily(w, "cube_explorer_runtime_io_write_bytes_total", "counter", "Bytes written to storage.", one(u64(st.WriteBytes)))
		}
	})
}

func appMetricsSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type endpointRow struct {
			Method  string  `json:"method"`
			Path    string  `json:"path"`
			Status  string  `json:"status"`
			Count   uint64  `json:"count"`
			AvgMS   float64 `json:"avg_ms"`
			TotalMS float64 `json:"total_ms"`
		}
		type dbRow struct {
			Connector string  `json:"connector"`
			Operation string  `json:"operation"`
			Count     uint64  `json:"count"`
			Errors    uint64  `json:"errors"`
			AvgMS     float64 `json:"avg_ms"`
		}

		metricsMu.Lock()
		httpRows := make([]endpointRow, 0, len(httpSeries))
		for k, s := range httpSeries {
			avg := 0.0
			if s.Count > 0 {
				avg = (s.DurationSecondsSum / float64(s.Count)) * 1000.0
			}
			httpRows = append(httpRows, endpointRow{
				Method:  k.Method,
				Path:    k.Path,
				Status:  k.Status,
				Count:   s.Count,
				AvgMS:   avg,
				TotalMS: s.DurationSecondsSum * 1000.0,
			})
		}

		dbRows := make([]dbRow, 0, len(dbQuerySeries))
		totalDBErrors := uint64(0)
		for k, s := range dbQuerySeries {
			avg := 0.0
			if s.Count > 0 {
				avg = (s.DurationSecondsSum / float64(s.Count)) * 1000.0
			}
			dbRows = append(dbRows, dbRow{
				Connector: k.Connector,
				Operation: k.Operation,
				Count:     s.Count,
				Errors:    s.Errors,
				AvgMS:     avg,
			})
			totalDBErrors += s.Errors
		}

		summaryUpdates := uint64(0)
		for _, s := range summarySeries {
			summaryUpdates += s.Count
		}
		cacheHits, cacheMisses := uint64(0), uint64(0)
		for _, s := range cacheSeries {
			cacheHits += s.Hits
			cacheMisses += s.Misses
		}
		metricsMu.Unlock()

		sort.Slice(httpRows, func(i, j int) bool { return httpRows[i].AvgMS > httpRows[j].AvgMS })
		sort.Slice(dbRows, func(i, j int) bool { return dbRows[i].AvgMS > dbRows[j].AvgMS })

		topHTTP := httpRows
		if len(topHTTP) > 5 {
			topHTTP = topHTTP[:5]
		}
		topDB := dbRows
		if len(topDB) > 5 {
			topDB = topDB[:5]
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"meta": map[string]any{
				"generated_at": time.Now().UTC(),
			},
			"data": map[string]any{
				"top_http_slowest_avg_ms": topHTTP,
				"top_db_slowest_avg_ms":   topDB,
				"errors": map[string]any{
					"db_query_total": totalDBErrors,
				},
				"summary_updates_total": summaryUpdates,
				"cache": map[string]any{
					"hits":   cacheHits,
					"misses": cacheMisses,
				},
			},
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&inFlightRequests, 1)
		defer atomic.AddInt64(&inFlightRequests, -1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := normalizeMetricPath(r.URL.Path)
		sec := time.Since(start).Seconds()
		recordHTTPMetric(r.Method, route, rec.status, sec)
	})
}

// normalizeMetricPath folds product names, periods and ids out of request
// paths so each route is one series.
func normalizeMetricPath(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	switch parts[0] {
	case "metrics", "health", "ready", "about", "about.csv", "products.txt", "favicon.ico":
		return path
	case "api":
		if len(parts) == 2 && parts[1] == "summary" {
			return "/api/summary"
		}
		if len(parts) > 2 && parts[1] == "summary" {
			return "/api/summary/{product}" + periodSuffix(after(parts, 3))
		}
		return path
	case "dataset":
		if len(parts) >= 2 && strings.HasSuffix(parts[1], ".odc-metadata.yaml") {
			return "/dataset/{id}.odc-metadata.yaml"
		}
		return "/dataset/{id}"
	case "product":
		if len(parts) >= 2 && strings.HasSuffix(parts[1], ".odc-product.yaml") {
			return "/product/{name}.odc-product.yaml"
		}
		return "/product/{name}"
	case "metadata-type":
		if len(parts) >= 2 && strings.HasSuffix(parts[1], ".odc-type.yaml") {
			return "/metadata-type/{name}.odc-type.yaml"
		}
		return "/metadata-type/{name}"
	case "datasets":
		return "/datasets/{product}" + periodSuffix(after(parts, 2))
	case "region":
		return "/region/{product}/{region}"
	case "reports":
		return "/reports/{products}" + periodSuffix(after(parts, 2))
	case "product-audit":
		return "/product-audit/"
	}
	return "/{product}" + periodSuffix(parts[1:])
}

func after(parts []string, n int) []string {
	if len(parts) <= n {
		return nil
	}
	return parts[n:]
}

func periodSuffix(rest []string) string {
	names := []string{"/{year}", "/{month}", "/{day}"}
	out := ""
	for i := range rest {
		if i >= len(names) {
			out += "/{extra}"
			break
		}
		out += names[i]
	}
	return out
}

type httpMetricKey struct {
	Method string
	Path   string
	Status string
}

type httpMetricSeries struct {
	Count              uint64
	DurationSecondsSum float64
}

type dbMetricKey struct {
	Connector string
	Operation string
}

type dbMetricSeries struct {
	Count              uint64
	Errors             uint64
	DurationSecondsSum float64
}

type summaryMetricKey struct {
	Period string
}

type summaryMetricSeries struct {
	Count    uint64
	Datasets uint64
}

type cacheMetricKey struct {
	Cache string
}

type cacheMetricSeries struct {
	Hits   uint64
	Misses uint64
}

func recordHTTPMetric(method, path string, status int, durationSeconds float64) {
	key := httpMetricKey{
		Method: method,
		Path:   path,
		Status: fmt.Sprintf("%d", status),
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := httpSeries[key]
	if !ok {
		row = &httpMetricSeries{}
		httpSeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
}

func recordDBQuery(connector, operation string, durationSeconds float64, err error) {
	if connector == "" || operation == "" {
		return
	}
	key := dbMetricKey{Connector: connector, Operation: operation}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := dbQuerySeries[key]
	if !ok {
		row = &dbMetricSeries{}
		dbQuerySeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
	if err != nil {
		row.Errors++
	}
}

func recordSummaryUpdate(period string, datasets int64) {
	period = strings.TrimSpace(strings.ToLower(period))
	if period == "" {
		period = "unknown"
	}
	key := summaryMetricKey{Period: period}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := summarySeries[key]
	if !ok {
		row = &summaryMetricSeries{}
		summarySeries[key] = row
	}
	row.Count++
	if datasets > 0 {
		row.Datasets += uint64(datasets)
	}
}

func recordCacheLookup(cache string, hit bool) {
	key := cacheMetricKey{Cache: cache}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := cacheSeries[key]
	if !ok {
		row = &cacheMetricSeries{}
		cacheSeries[key] = row
	}
	if hit {
		row.Hits++
	} else {
		row.Misses++
	}
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

// processCPUSeconds is user plus system time from getrusage.
func processCPUSeconds() (float64, bool) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	tv := func(t syscall.Timeval) float64 { return float64(t.Sec) + float64(t.Usec)/1e6 }
	return tv(ru.Utime) + tv(ru.Stime), true
}

type ioStats struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// processIOStats reads storage byte counters from /proc/self/io. It returns
// nil off Linux or when the file is unreadable.
func processIOStats() *ioStats {
	b, err := os.ReadFile("/proc/self/io")
	if err != nil {
		return nil
	}
	fields := map[string]*uint64{}
	out := &ioStats{}
	fields["read_bytes"] = &out.ReadBytes
	fields["write_bytes"] = &out.WriteBytes
	for _, line := range strings.Split(string(b), "\n") {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		dst, want := fields[strings.TrimSpace(key)]
		if !want {
			continue
		}
		if v, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64); err == nil {
			*dst = v
		}
	}
	return out
}
