package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if errWrite := os.WriteFile(path, []byte("x"), 0o600); errWrite != nil {
		t.Fatalf("write %s: %v", name, errWrite)
	}
	stamp := time.Now().Add(-age)
	if errTimes := os.Chtimes(path, stamp, stamp); errTimes != nil {
		t.Fatalf("chtimes %s: %v", name, errTimes)
	}
	return path
}

func TestSweepOnce_RemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	stale := writeAged(t, dir, "old.ogg", 2*time.Hour)
	fresh := writeAged(t, dir, "new.ogg", time.Minute)
	if errMkdir := os.Mkdir(filepath.Join(dir, "nested"), 0o755); errMkdir != nil {
		t.Fatalf("mkdir: %v", errMkdir)
	}

	sweeper := NewSweeper(dir, "", time.Hour)
	removed, errSweep := sweeper.SweepOnce(context.Background())
	if errSweep != nil {
		t.Fatalf("sweep: %v", errSweep)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, errStat := os.Stat(stale); !os.IsNotExist(errStat) {
		t.Fatalf("stale file should be gone, stat err=%v", errStat)
	}
	if _, errStat := os.Stat(fresh); errStat != nil {
		t.Fatalf("fresh file should remain: %v", errStat)
	}
	if _, errStat := os.Stat(filepath.Join(dir, "nested")); errStat != nil {
		t.Fatalf("directories are left alone: %v", errStat)
	}
}

func TestSweepOnce_MissingDirIsNotAnError(t *testing.T) {
	sweeper := NewSweeper(filepath.Join(t.TempDir(), "absent"), "", time.Hour)
	if removed, errSweep := sweeper.SweepOnce(context.Background()); errSweep != nil || removed != 0 {
		t.Fatalf("expected no-op, got %d %v", removed, errSweep)
	}
}

func TestStart_SweepsImmediatelyAndStops(t *testing.T) {
	dir := t.TempDir()
	stale := writeAged(t, dir, "old.pdf", 3*time.Hour)

	sweeper := NewSweeper(dir, "@every 1h", time.Hour)
	if errStart := sweeper.Start(context.Background()); errStart != nil {
		t.Fatalf("start: %v", errStart)
	}
	if _, errStat := os.Stat(stale); !os.IsNotExist(errStat) {
		t.Fatalf("start should sweep once, stat err=%v", errStat)
	}
	sweeper.Stop()
	sweeper.Stop()
}

func TestStart_InvalidSchedule(t *testing.T) {
	sweeper := NewSweeper(t.TempDir(), "every now and then", time.Hour)
	if errStart := sweeper.Start(context.Background()); errStart == nil {
		sweeper.Stop()
		t.Fatalf("expected an invalid schedule error")
	}
}
