// Package cleanup removes stale pipeline artifacts on a schedule.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSchedule = "@every 1h"
	defaultMaxAge   = time.Hour
)

// Sweeper deletes files older than maxAge from one directory.
type Sweeper struct {
	dir      string
	schedule string
	maxAge   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper constructs a sweeper for dir. schedule is a cron spec
// ("@every 1h", "0 * * * *").
func NewSweeper(dir, schedule string, maxAge time.Duration) *Sweeper {
	if strings.TrimSpace(schedule) == "" {
		schedule = defaultSchedule
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Sweeper{
		dir:      dir,
		schedule: schedule,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Start runs one sweep immediately and then on the schedule until Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, errAdd := c.AddFunc(s.schedule, s.runScheduled); errAdd != nil {
		return fmt.Errorf("cleanup: invalid schedule %q: %w", s.schedule, errAdd)
	}

	if _, errSweep := s.SweepOnce(ctx); errSweep != nil {
		log.WithError(errSweep).Warn("cleanup: initial sweep failed")
	}
	c.Start()
	s.cron = c
	s.running = true
	log.Infof("cleanup sweeper started (dir=%s schedule=%s max_age=%s)", s.dir, s.schedule, s.maxAge)
	return nil
}

// Stop halts the schedule and waits for a sweep in progress to finish.
func (s *Sweeper) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Info("cleanup sweeper stopped")
}

func (s *Sweeper) runScheduled() {
	if _, errSweep := s.SweepOnce(context.Background()); errSweep != nil {
		log.WithError(errSweep).Warn("cleanup: sweep failed")
	}
}

// SweepOnce removes regular files whose modification time is older than
// maxAge and returns how many were removed. Individual removal failures are
// logged and do not stop the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s == nil || strings.TrimSpace(s.dir) == "" {
		return 0, fmt.Errorf("cleanup: no directory configured")
	}
	entries, errRead := os.ReadDir(s.dir)
	if errRead != nil {
		if errors.Is(errRead, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("cleanup: read dir: %w", errRead)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if errRemove := os.Remove(path); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
			log.WithError(errRemove).WithField("path", path).Warn("cleanup: remove failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.WithFields(log.Fields{"dir": s.dir, "removed": removed}).Info("cleanup: stale files removed")
	}
	return removed, nil
}
