package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeJobsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write jobs file: %v", err)
	}
	return path
}

func TestLoadJobOverrides(t *testing.T) {
	path := writeJobsFile(t, `
jobs:
  metrics.aggregate:
    period: 1m
  heartbeat:
    disabled: true
`)
	overrides, err := LoadJobOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(overrides) != 2 {
		t.Fatalf("overrides = %+v", overrides)
	}
	if o := overrides["metrics.aggregate"]; o.Period.Std() != time.Minute || o.Disabled {
		t.Fatalf("metrics.aggregate = %+v", o)
	}
	if o := overrides["heartbeat"]; !o.Disabled {
		t.Fatalf("heartbeat = %+v", o)
	}
}

func TestLoadJobOverrides_EmptyPath(t *testing.T) {
	overrides, err := LoadJobOverrides("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(overrides) != 0 {
		t.Fatalf("overrides = %+v, want empty", overrides)
	}
}

func TestLoadJobOverrides_MissingFile(t *testing.T) {
	if _, err := LoadJobOverrides(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadJobOverrides_ZeroPeriodRejected(t *testing.T) {
	path := writeJobsFile(t, `
jobs:
  logs.cleanup:
    period: 0s
`)
	if _, err := LoadJobOverrides(path); err == nil {
		t.Fatal("expected error for non-positive period")
	}
}

func TestLoadJobOverrides_BadYAML(t *testing.T) {
	path := writeJobsFile(t, "jobs: [not: a: map")
	if _, err := LoadJobOverrides(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
