package config

import (
	"bufio"
	"cmp"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the explorer server and generator.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string

	IndexDBEnabled      bool
	IndexDBHost         string
	IndexDBPort         int
	IndexDBUser         string
	IndexDBPassword     string
	IndexDBName         string
	IndexDBConnTimeout  time.Duration
	IndexDBQueryTimeout time.Duration

	SummarySQLitePath   string
	SummaryQueryTimeout time.Duration
	SummaryCacheTTL     time.Duration
	ProductListCacheTTL time.Duration
	GroupingTimeZone    string

	DefaultStartProducts    []string
	ProvenanceDisplayLimit  int
	SequenceCollapseAfter   int
	SearchHardLimit         int
	DefaultLicense          string
	PublicBaseURL           string
	GenWorkers              int
	GenRefreshOlderThan     time.Duration
	GenExtentBatchSize      int
	LinkedProductSampleSize int
}

// FromEnv loads configuration from environment variables with sensible defaults.
func FromEnv() Config {
	loadConfigDefaultsFromFile()
	loadSecretsDefaultsFromFile()

	return Config{
		ListenAddr:              getEnv("APP_LISTEN_ADDR", ":8080"),
		ReadTimeout:             time.Duration(getEnvInt("APP_READ_TIMEOUT_SEC", 10)) * time.Second,
		WriteTimeout:            time.Duration(getEnvInt("APP_WRITE_TIMEOUT_SEC", 30)) * time.Second,
		ShutdownTimeout:         time.Duration(getEnvInt("APP_SHUTDOWN_TIMEOUT_SEC", 10)) * time.Second,
		LogLevel:                getEnv("APP_LOG_LEVEL", "info"),
		LogFormat:               getEnv("APP_LOG_FORMAT", "auto"),
		IndexDBEnabled:          getEnvBool("APP_INDEX_DB_ENABLED", false),
		IndexDBHost:             getEnv("APP_INDEX_DB_HOST", "127.0.0.1"),
		IndexDBPort:             getEnvInt("APP_INDEX_DB_PORT", 3306),
		IndexDBUser:             getEnv("APP_INDEX_DB_USER", "explorer"),
		IndexDBPassword:         getEnv("APP_INDEX_DB_PASSWORD", ""),
		IndexDBName:             getEnv("APP_INDEX_DB_NAME", "datacube"),
		IndexDBConnTimeout:      time.Duration(getEnvInt("APP_INDEX_DB_CONN_TIMEOUT_SEC", 5)) * time.Second,
		IndexDBQueryTimeout:     time.Duration(getEnvInt("APP_INDEX_DB_QUERY_TIMEOUT_SEC", 20)) * time.Second,
		SummarySQLitePath:       getEnv("APP_SUMMARY_SQLITE_PATH", "./explorer-summaries.db"),
		SummaryQueryTimeout:     time.Duration(getEnvInt("APP_SUMMARY_QUERY_TIMEOUT_SEC", 20)) * time.Second,
		SummaryCacheTTL:         time.Duration(getEnvInt("APP_SUMMARY_CACHE_TTL_SEC", 60)) * time.Second,
		ProductListCacheTTL:     time.Duration(getEnvInt("APP_PRODUCT_LIST_CACHE_TTL_SEC", 120)) * time.Second,
		GroupingTimeZone:        getEnv("APP_GROUPING_TIME_ZONE", "Australia/Darwin"),
		DefaultStartProducts:    getEnvList("APP_DEFAULT_START_PRODUCTS", []string{"ls7_nbar_scene", "ls5_nbar_scene"}),
		ProvenanceDisplayLimit:  getEnvInt("APP_PROVENANCE_DISPLAY_LIMIT", 25),
		SequenceCollapseAfter:   getEnvInt("APP_SEQUENCE_COLLAPSE_AFTER", 20),
		SearchHardLimit:         getEnvInt("APP_SEARCH_HARD_LIMIT", 500),
		DefaultLicense:          getEnv("APP_DEFAULT_LICENSE", ""),
		PublicBaseURL:           strings.TrimRight(getEnv("APP_PUBLIC_BASE_URL", ""), "/"),
		GenWorkers:              getEnvInt("APP_GEN_WORKERS", 3),
		GenRefreshOlderThan:     time.Duration(getEnvInt("APP_GEN_REFRESH_OLDER_THAN_MIN", 24*60)) * time.Minute,
		GenExtentBatchSize:      getEnvInt("APP_GEN_EXTENT_BATCH_SIZE", 500),
		LinkedProductSampleSize: getEnvInt("APP_LINKED_PRODUCT_SAMPLE_SIZE", 1000),
	}
}

// Location resolves the grouping time zone, falling back to UTC when unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.GroupingTimeZone))
	if err != nil {
		return time.UTC
	}
	return loc
}

// loadConfigDefaultsFromFile applies the bootstrap env files, then the first
// readable of APP_CONFIG_FILE or the system config file.
func loadConfigDefaultsFromFile() {
	for _, path := range []string{"./cube-explorer.env", "/etc/default/cube-explorer"} {
		_ = applyEnvDefaultsFromFile(absPath(path))
	}
	firstReadable(absPath, os.Getenv("APP_CONFIG_FILE"), "/etc/cube-explorer/config.env")
}

// loadSecretsDefaultsFromFile prefers APP_SECRETS_FILE, then a systemd
// credential, then the system secrets file.
func loadSecretsDefaultsFromFile() {
	var credential string
	if dir := strings.TrimSpace(os.Getenv("CREDENTIALS_DIRECTORY")); dir != "" {
		name := cmp.Or(strings.TrimSpace(os.Getenv("APP_SECRETS_CREDENTIAL_NAME")), "app-secrets")
		credential = filepath.Join(dir, name)
	}
	firstReadable(nil, os.Getenv("APP_SECRETS_FILE"), credential, "/etc/cube-explorer/secrets.env")
}

func firstReadable(resolve func(string) string, paths ...string) {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if resolve != nil {
			path = resolve(path)
		}
		if applyEnvDefaultsFromFile(path) == nil {
			return
		}
	}
}

func absPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// applyEnvDefaultsFromFile reads KEY=value lines, optionally prefixed with
// export and optionally quoted, and sets each key not already present in the
// environment.
func applyEnvDefaultsFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, val, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		key, val = strings.TrimSpace(key), unquote(strings.TrimSpace(val))
		if !ok || key == "" {
			continue
		}
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
	return sc.Err()
}

func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	if q := v[0]; (q == '"' || q == '\'') && v[len(v)-1] == q {
		return v[1 : len(v)-1]
	}
	return v
}

// MySQLDSN returns a mysql driver DSN for the data cube index database.
func (c Config) MySQLDSN() string {
	params := url.Values{
		"parseTime":    {"true"},
		"loc":          {"UTC"},
		"charset":      {"utf8mb4"},
		"timeout":      {c.IndexDBConnTimeout.String()},
		"readTimeout":  {c.IndexDBQueryTimeout.String()},
		"writeTimeout": {c.IndexDBQueryTimeout.String()},
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.IndexDBUser, c.IndexDBPassword, c.IndexDBHost, c.IndexDBPort, c.IndexDBName, params.Encode())
}

// envParse returns def when key is unset or fails to parse.
func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	return envParse(key, def, func(s string) (string, error) { return s, nil })
}

func getEnvInt(key string, def int) int { return envParse(key, def, strconv.Atoi) }

func getEnvBool(key string, def bool) bool { return envParse(key, def, strconv.ParseBool) }

func getEnvList(key string, def []string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		raw = strings.Join(def, ",")
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
