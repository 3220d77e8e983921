// Package retention prunes aged state: stale terminal registrations,
// delivered-and-forgotten inbox messages, and capture files whose
// terminals are long gone.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agentmux/internal/logging"
	"agentmux/internal/store"
)

const defaultSweepInterval = time.Hour

// Sweeper deletes rows and capture files older than the retention
// window.
type Sweeper struct {
	store    *store.Store
	logger   *logging.Logger
	logDir   string
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// Options configures a Sweeper.
type Options struct {
	Store  *store.Store
	Logger *logging.Logger
	// LogDir is the terminal capture directory to prune.
	LogDir string
	// RetentionDays is the age cutoff; zero or negative disables
	// sweeping entirely.
	RetentionDays int
	// Interval overrides the hourly sweep cadence.
	Interval time.Duration
}

func NewSweeper(opts Options) *Sweeper {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		store:    opts.Store,
		logger:   logger,
		logDir:   opts.LogDir,
		maxAge:   time.Duration(opts.RetentionDays) * 24 * time.Hour,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start sweeps once immediately, then hourly. A non-positive retention
// window makes Start a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if s.maxAge <= 0 {
		return
	}
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.Sweep()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.done.Wait()
}

// Sweep runs one pruning pass.
func (s *Sweeper) Sweep() {
	cutoff := s.now().Add(-s.maxAge)

	messages, err := s.store.DeleteMessagesBefore(cutoff)
	if err != nil {
		s.logger.Warn("message retention sweep failed", map[string]string{"error": err.Error()})
	}
	terminals, err := s.store.DeleteTerminalsBefore(cutoff)
	if err != nil {
		s.logger.Warn("terminal retention sweep failed", map[string]string{"error": err.Error()})
	}
	logs := s.sweepLogs(cutoff)

	if messages > 0 || terminals > 0 || logs > 0 {
		s.logger.Info("retention sweep completed", map[string]string{
			"messages":  fmt.Sprintf("%d", messages),
			"terminals": fmt.Sprintf("%d", terminals),
			"log_files": fmt.Sprintf("%d", logs),
		})
	}
}

// sweepLogs removes capture files last written before the cutoff,
// keeping files for terminals that are still registered.
func (s *Sweeper) sweepLogs(cutoff time.Time) int {
	if s.logDir == "" {
		return 0
	}
	entries, err := os.ReadDir(s.logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		s.logger.Warn("capture directory read failed", map[string]string{
			"path":  s.logDir,
			"error": err.Error(),
		})
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		terminalID := strings.TrimSuffix(entry.Name(), ".log")
		if _, err := s.store.GetTerminal(terminalID); err == nil {
			continue
		}
		path := filepath.Join(s.logDir, entry.Name())
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.logger.Warn("capture file removal failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	return removed
}
