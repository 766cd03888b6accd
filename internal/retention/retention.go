// Package retention prunes crash dumps on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"kitbridge/pkg/logger"
)

// Options configures the pruning job.
type Options struct {
	// Dir holds crash-*.log dumps.
	Dir string
	// Cron is a five-field cron expression, e.g. "0 * * * *".
	Cron string
	// MaxAge is how long a dump is kept.
	MaxAge time.Duration
}

// Manager runs Purge on every tick of its cron expression.
type Manager struct {
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	running bool
	now     func() time.Time
}

// Start validates opts and launches the schedule loop. Stop ends it.
func Start(ctx context.Context, opts Options) (*Manager, error) {
	if !gronx.New().IsValid(opts.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", opts.Cron)
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", opts.MaxAge)
	}
	ctx2, cancel := context.WithCancel(ctx)
	m := &Manager{opts: opts, ctx: ctx2, cancel: cancel, done: make(chan struct{}), now: time.Now}
	logger.Info("retention_enabled", "cron", opts.Cron, "dir", opts.Dir, "max_age", opts.MaxAge)
	go m.scheduleLoop()
	return m, nil
}

// Stop ends the schedule loop and waits for a running purge to finish.
func (m *Manager) Stop() {
	m.cancel()
	<-m.done
}

func (m *Manager) scheduleLoop() {
	defer close(m.done)
	for {
		next, err := gronx.NextTickAfter(m.opts.Cron, m.now(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.opts.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-m.ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			m.RunOnce()
		case <-m.ctx.Done():
			return
		}
	}
}

// RunOnce purges now unless a purge is already running.
func (m *Manager) RunOnce() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	removed, err := Purge(m.opts.Dir, m.opts.MaxAge, m.now())
	if err != nil {
		logger.Error("retention_run_error", "error", err)
		return
	}
	logger.Info("retention_run_done", "dir", m.opts.Dir, "removed", removed)
}

// Purge removes crash dumps in dir last modified before now-maxAge and
// returns how many were removed. A missing dir is not an error.
func Purge(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !isDump(e) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("retention_remove_failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func isDump(e fs.DirEntry) bool {
	name := e.Name()
	return e.Type().IsRegular() && strings.HasPrefix(name, "crash-") && strings.HasSuffix(name, ".log")
}
