package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyEnvDefaultsFromFile_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "explorer.env")
	content := "# comment\nAPP_TEST_ONE=\"from-file\"\nexport APP_TEST_TWO='quoted'\nAPP_TEST_THREE=kept\nbroken line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("APP_TEST_ONE", "")
	t.Setenv("APP_TEST_TWO", "")
	t.Setenv("APP_TEST_THREE", "from-env")

	if err := applyEnvDefaultsFromFile(path); err != nil {
		t.Fatalf("apply env file: %v", err)
	}

	if got := os.Getenv("APP_TEST_ONE"); got != "from-file" {
		t.Fatalf("expected APP_TEST_ONE=from-file, got %q", got)
	}
	if got := os.Getenv("APP_TEST_TWO"); got != "quoted" {
		t.Fatalf("expected APP_TEST_TWO=quoted, got %q", got)
	}
	if got := os.Getenv("APP_TEST_THREE"); got != "from-env" {
		t.Fatalf("expected environment to win, got %q", got)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("APP_SEQUENCE_COLLAPSE_AFTER", "")
	t.Setenv("APP_DEFAULT_START_PRODUCTS", " ls8_nbar_scene , ,ls7_nbar_scene")
	t.Setenv("APP_SUMMARY_CACHE_TTL_SEC", "not-a-number")

	cfg := FromEnv()
	if cfg.SequenceCollapseAfter != 20 {
		t.Fatalf("expected collapse threshold 20, got %d", cfg.SequenceCollapseAfter)
	}
	if cfg.SummaryCacheTTL != 60*time.Second {
		t.Fatalf("expected invalid int to fall back to default, got %s", cfg.SummaryCacheTTL)
	}
	if len(cfg.DefaultStartProducts) != 2 || cfg.DefaultStartProducts[0] != "ls8_nbar_scene" {
		t.Fatalf("unexpected start products: %#v", cfg.DefaultStartProducts)
	}
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	cfg := Config{GroupingTimeZone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
}
