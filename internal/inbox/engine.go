// Package inbox queues inter-terminal messages and delivers them when
// the receiving terminal goes idle. Idle transitions are observed from
// the pipe-pane capture files, never by polling the terminals.
package inbox

import (
	"io"
	"os"
	"sync"
	"time"

	"agentmux/internal/event"
	"agentmux/internal/fault"
	"agentmux/internal/logging"
	"agentmux/internal/provider"
	"agentmux/internal/store"
	"agentmux/internal/terminal"
)

// logTailBytes bounds how much of a capture file the idle classifier
// reads. The prompt always sits at the very end.
const logTailBytes = 16 * 1024

// Engine queues messages and performs idle-gated delivery.
type Engine struct {
	store   *store.Store
	manager *terminal.Manager
	logger  *logging.Logger
	bus     *event.Bus
	now     func() time.Time

	// mu guards receivers; each receiver has its own delivery lock so
	// concurrent idle events for one terminal serialize without
	// blocking deliveries to other terminals.
	mu        sync.Mutex
	receivers map[string]*sync.Mutex
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Store   *store.Store
	Manager *terminal.Manager
	Logger  *logging.Logger
	Bus     *event.Bus
}

func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		store:     opts.Store,
		manager:   opts.Manager,
		logger:    logger,
		bus:       opts.Bus,
		now:       time.Now,
		receivers: make(map[string]*sync.Mutex),
	}
}

// Send queues a message for a terminal and attempts an immediate
// delivery in case the receiver is already idle. The receiver must be
// a registered terminal.
func (e *Engine) Send(senderID, receiverID, body string) (int64, error) {
	if body == "" {
		return 0, fault.Validation("message body is required")
	}
	if _, err := e.store.GetTerminal(receiverID); err != nil {
		return 0, err
	}
	id, err := e.store.AddMessage(senderID, receiverID, body, e.now())
	if err != nil {
		return 0, err
	}
	e.logger.Debug("message queued", map[string]string{
		"receiver": receiverID,
		"sender":   senderID,
	})
	e.publish(event.TypeMessageQueued, map[string]string{
		"receiver": receiverID,
		"sender":   senderID,
	})

	if _, err := e.CheckAndSendPending(receiverID); err != nil {
		e.logger.Warn("immediate delivery attempt failed", map[string]string{
			"receiver": receiverID,
			"error":    err.Error(),
		})
	}
	return id, nil
}

// Pending returns the receiver's undelivered messages oldest first.
func (e *Engine) Pending(receiverID string) ([]store.Message, error) {
	return e.Messages(receiverID, store.MessagePending, 0)
}

// Messages returns the receiver's messages in one state, oldest first.
// A non-positive limit returns all of them.
func (e *Engine) Messages(receiverID string, status store.MessageStatus, limit int) ([]store.Message, error) {
	if _, err := e.store.GetTerminal(receiverID); err != nil {
		return nil, err
	}
	return e.store.MessagesByStatus(receiverID, status, limit)
}

// CheckAndSendPending delivers at most one pending message to the
// receiver if its capture file shows an idle prompt. It reports whether
// a message was delivered. A terminal that is busy, unreadable, or
// merely COMPLETED gets nothing; delivery waits for a clean idle
// prompt.
func (e *Engine) CheckAndSendPending(receiverID string) (bool, error) {
	lock := e.receiverLock(receiverID)
	lock.Lock()
	defer lock.Unlock()

	has, err := e.store.HasPending(receiverID)
	if err != nil {
		return false, err
	}
	if !has {
		return false, nil
	}

	term, err := e.store.GetTerminal(receiverID)
	if err != nil {
		return false, err
	}
	prov, err := provider.New(provider.Kind(term.Provider), term.AgentProfile)
	if err != nil {
		return false, err
	}

	tail, err := readTail(e.manager.LogPath(receiverID), logTailBytes)
	if err != nil {
		// An unreadable capture file means we cannot prove idleness.
		e.logger.Debug("capture file unreadable, skipping delivery", map[string]string{
			"receiver": receiverID,
			"error":    err.Error(),
		})
		return false, nil
	}
	if prov.Status(tail) != provider.StatusIdle {
		return false, nil
	}

	pending, err := e.store.PendingMessages(receiverID)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}
	next := pending[0]

	// The status flip is the dedup barrier: only the goroutine that
	// wins the PENDING->DELIVERED transition injects the message.
	won, err := e.store.MarkDelivered(next.ID)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	if err := e.manager.SendInput(receiverID, next.Body); err != nil {
		return false, err
	}

	e.logger.Info("message delivered", map[string]string{
		"receiver": receiverID,
		"sender":   next.SenderID,
	})
	e.publish(event.TypeMessageDelivered, map[string]string{
		"receiver": receiverID,
		"sender":   next.SenderID,
	})
	return true, nil
}

func (e *Engine) receiverLock(receiverID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.receivers[receiverID]
	if !ok {
		lock = &sync.Mutex{}
		e.receivers[receiverID] = lock
	}
	return lock
}

func (e *Engine) publish(eventType event.Type, fields map[string]string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event.New(eventType, fields))
}

// readTail returns up to maxBytes from the end of the file at path.
func readTail(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > maxBytes {
		if _, err := f.Seek(-maxBytes, io.SeekEnd); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
