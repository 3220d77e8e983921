package inbox

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"agentmux/internal/logging"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher observes the terminal capture directory and nudges the
// delivery engine whenever a terminal's log file grows. Each write
// burst collapses into a single delivery check per terminal.
type Watcher struct {
	fs       *fsnotify.Watcher
	engine   *Engine
	logger   *logging.Logger
	debounce time.Duration
	done     chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Engine *Engine
	// LogDir is the directory holding <terminal-id>.log capture files.
	LogDir   string
	Logger   *logging.Logger
	Debounce time.Duration
}

// NewWatcher starts watching the capture directory. The directory must
// exist.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(opts.LogDir); err != nil {
		fs.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w := &Watcher{
		fs:       fs,
		engine:   opts.Engine,
		logger:   logger,
		debounce: debounce,
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and cancels pending delivery checks.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.timers = nil
	w.mu.Unlock()

	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			receiverID, ok := terminalIDFromLogPath(evt.Name)
			if !ok {
				continue
			}
			w.schedule(receiverID)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("capture watcher error", map[string]string{"error": err.Error()})
		case <-w.done:
			return
		}
	}
}

// schedule arms (or re-arms) the per-terminal debounce timer.
func (w *Watcher) schedule(receiverID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, ok := w.timers[receiverID]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[receiverID] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, receiverID)
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		if _, err := w.engine.CheckAndSendPending(receiverID); err != nil {
			w.logger.Warn("delivery check failed", map[string]string{
				"receiver": receiverID,
				"error":    err.Error(),
			})
		}
	})
}

func terminalIDFromLogPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".log") {
		return "", false
	}
	id := strings.TrimSuffix(base, ".log")
	if id == "" {
		return "", false
	}
	return id, true
}
