// Package terminal manages the lifecycle of agent terminals: tmux
// sessions and windows, provider REPL startup, output capture, and the
// registry rows that tie them together.
package terminal

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentmux/internal/event"
	"agentmux/internal/fault"
	"agentmux/internal/logging"
	"agentmux/internal/provider"
	"agentmux/internal/store"
	"agentmux/internal/tmux"
)

const (
	// SessionPrefix marks tmux sessions owned by the orchestrator;
	// foreign sessions are never listed or killed.
	SessionPrefix = "amx-"

	windowPrefix = "win-"

	// statusTailLines is how much scrollback the status classifier
	// sees. The idle prompt and reply marker always sit near the end.
	statusTailLines = 200

	// fullOutputLines caps FULL output reads.
	fullOutputLines = 1000
)

// OutputMode selects how much of a terminal's output to return.
type OutputMode string

const (
	OutputFull OutputMode = "FULL"
	OutputLast OutputMode = "LAST"
)

// ParseOutputMode validates an output mode received from the outside.
// Empty means FULL.
func ParseOutputMode(value string) (OutputMode, error) {
	switch OutputMode(strings.ToUpper(value)) {
	case OutputFull, "":
		return OutputFull, nil
	case OutputLast:
		return OutputLast, nil
	default:
		return "", fault.Validation("invalid output mode '%s'", value)
	}
}

// Multiplexer is the subset of the tmux client the manager drives.
type Multiplexer interface {
	CreateSession(sessionName, windowName, terminalID, workdir string) error
	CreateWindow(sessionName, windowName, terminalID, workdir string) error
	SendText(sessionName, windowName, text string) error
	GetHistory(sessionName, windowName string, tailLines int) (string, error)
	PipePane(sessionName, windowName, logPath string) error
	StopPipePane(sessionName, windowName string) error
	PaneWorkingDirectory(sessionName, windowName string) (string, error)
	KillSession(name string) error
	HasSession(name string) (bool, error)
	ListSessions() ([]tmux.SessionInfo, error)
	SessionWindows(sessionName string) ([]tmux.WindowInfo, error)
}

// Options configures a Manager.
type Options struct {
	Store  *store.Store
	Mux    Multiplexer
	Logger *logging.Logger
	Bus    *event.Bus
	// LogDir receives one pipe-pane capture file per terminal, named
	// <terminal-id>.log.
	LogDir string
	// DefaultProvider is used when a create request names none.
	DefaultProvider string
}

// Manager owns terminal lifecycle. It is safe for concurrent use.
type Manager struct {
	store           *store.Store
	mux             Multiplexer
	logger          *logging.Logger
	bus             *event.Bus
	logDir          string
	defaultProvider string

	newID func() string
	now   func() time.Time
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	defaultProvider := opts.DefaultProvider
	if defaultProvider == "" {
		defaultProvider = string(provider.KindQCLI)
	}
	return &Manager{
		store:           opts.Store,
		mux:             opts.Mux,
		logger:          logger,
		bus:             opts.Bus,
		logDir:          opts.LogDir,
		defaultProvider: defaultProvider,
		newID:           shortID,
		now:             time.Now,
	}
}

// shortID is the 8-hex-char terminal id used in session and window
// names and in log file names.
func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateRequest describes a terminal to create.
type CreateRequest struct {
	// Provider kind; empty means the configured default.
	Provider string
	// AgentProfile selects the agent persona. Required.
	AgentProfile string
	// SessionName joins an existing orchestrator session instead of
	// creating a new one. The session must exist in tmux.
	SessionName string
	// WorkingDir is the initial pane directory; empty means the
	// server's working directory.
	WorkingDir string
}

// CreateTerminal provisions a tmux window, wires output capture, starts
// the provider REPL, and registers the terminal.
func (m *Manager) CreateTerminal(req CreateRequest) (store.Terminal, error) {
	if strings.TrimSpace(req.AgentProfile) == "" {
		return store.Terminal{}, fault.Validation("agent profile is required")
	}
	providerName := strings.TrimSpace(req.Provider)
	if providerName == "" {
		providerName = m.defaultProvider
	}
	kind, err := provider.ParseKind(providerName)
	if err != nil {
		return store.Terminal{}, err
	}
	prov, err := provider.New(kind, req.AgentProfile)
	if err != nil {
		return store.Terminal{}, err
	}

	workdir, err := tmux.ResolveWorkingDirectory(req.WorkingDir)
	if err != nil {
		return store.Terminal{}, err
	}

	id := m.newID()
	windowName := windowPrefix + id
	sessionName := req.SessionName
	if sessionName == "" {
		sessionName = SessionPrefix + id
		if err := m.mux.CreateSession(sessionName, windowName, id, workdir); err != nil {
			return store.Terminal{}, fmt.Errorf("create session: %w", err)
		}
	} else {
		exists, err := m.mux.HasSession(sessionName)
		if err != nil {
			return store.Terminal{}, fmt.Errorf("check session: %w", err)
		}
		if !exists {
			return store.Terminal{}, fault.NotFound("session", sessionName)
		}
		if err := m.mux.CreateWindow(sessionName, windowName, id, workdir); err != nil {
			return store.Terminal{}, fmt.Errorf("create window: %w", err)
		}
	}

	if err := m.mux.PipePane(sessionName, windowName, m.LogPath(id)); err != nil {
		m.logger.Warn("pipe-pane setup failed", map[string]string{
			"terminal_id": id,
			"error":       err.Error(),
		})
	}

	now := m.now()
	term := store.Terminal{
		ID:           id,
		SessionName:  sessionName,
		WindowName:   windowName,
		Provider:     string(kind),
		AgentProfile: req.AgentProfile,
		CreatedAt:    now,
		LastActive:   now,
	}
	if err := m.store.CreateTerminal(term); err != nil {
		return store.Terminal{}, fmt.Errorf("register terminal: %w", err)
	}

	if err := m.mux.SendText(sessionName, windowName, prov.Command()); err != nil {
		return store.Terminal{}, fmt.Errorf("start provider: %w", err)
	}

	m.logger.Info("terminal created", map[string]string{
		"terminal_id":   id,
		"session":       sessionName,
		"provider":      string(kind),
		"agent_profile": req.AgentProfile,
	})
	m.publish(event.TypeTerminalCreated, map[string]string{
		"terminal_id":   id,
		"session":       sessionName,
		"agent_profile": req.AgentProfile,
	})
	return term, nil
}

// LogPath is where a terminal's pipe-pane capture accumulates.
func (m *Manager) LogPath(terminalID string) string {
	return filepath.Join(m.logDir, terminalID+".log")
}

// GetTerminal returns a terminal's registration plus its live status,
// classified from current pane output.
func (m *Manager) GetTerminal(id string) (store.Terminal, provider.Status, error) {
	term, err := m.store.GetTerminal(id)
	if err != nil {
		return store.Terminal{}, "", err
	}
	status, err := m.Status(term)
	if err != nil {
		return store.Terminal{}, "", err
	}
	return term, status, nil
}

// Status classifies a registered terminal from its current pane tail.
func (m *Manager) Status(term store.Terminal) (provider.Status, error) {
	prov, err := providerFor(term)
	if err != nil {
		return "", err
	}
	tail, err := m.mux.GetHistory(term.SessionName, term.WindowName, statusTailLines)
	if err != nil {
		return "", fmt.Errorf("capture output: %w", err)
	}
	return prov.Status(tail), nil
}

// SendInput delivers text to a terminal's pane and bumps last_active.
func (m *Manager) SendInput(id, text string) error {
	term, err := m.store.GetTerminal(id)
	if err != nil {
		return err
	}
	if err := m.mux.SendText(term.SessionName, term.WindowName, text); err != nil {
		return fmt.Errorf("send input: %w", err)
	}
	if _, err := m.store.TouchTerminal(id, m.now()); err != nil {
		return err
	}
	return nil
}

// GetOutput reads terminal output. FULL returns the capped raw
// scrollback; LAST isolates the most recent agent reply.
func (m *Manager) GetOutput(id string, mode OutputMode) (string, error) {
	term, err := m.store.GetTerminal(id)
	if err != nil {
		return "", err
	}
	history, err := m.mux.GetHistory(term.SessionName, term.WindowName, fullOutputLines)
	if err != nil {
		return "", fmt.Errorf("capture output: %w", err)
	}
	if mode == OutputLast {
		prov, err := providerFor(term)
		if err != nil {
			return "", err
		}
		return prov.ExtractLastMessage(history)
	}
	return history, nil
}

// GetWorkingDirectory reports the terminal pane's current directory.
func (m *Manager) GetWorkingDirectory(id string) (string, error) {
	term, err := m.store.GetTerminal(id)
	if err != nil {
		return "", err
	}
	return m.mux.PaneWorkingDirectory(term.SessionName, term.WindowName)
}

// ExitTerminal asks the provider REPL to quit, then removes the
// registration. The tmux window is left to close on its own.
func (m *Manager) ExitTerminal(id string) error {
	term, err := m.store.GetTerminal(id)
	if err != nil {
		return err
	}
	prov, err := providerFor(term)
	if err != nil {
		return err
	}
	if err := m.mux.SendText(term.SessionName, term.WindowName, prov.ExitCommand()); err != nil {
		return fmt.Errorf("send exit command: %w", err)
	}
	return m.DeleteTerminal(id)
}

// DeleteTerminal unregisters a terminal and stops its output capture.
// Deleting an unknown terminal returns a not-found error.
func (m *Manager) DeleteTerminal(id string) error {
	term, err := m.store.GetTerminal(id)
	if err != nil {
		return err
	}
	if err := m.mux.StopPipePane(term.SessionName, term.WindowName); err != nil {
		m.logger.Warn("stop pipe-pane failed", map[string]string{
			"terminal_id": id,
			"error":       err.Error(),
		})
	}
	if prov, err := providerFor(term); err == nil {
		if err := prov.Cleanup(id); err != nil {
			m.logger.Warn("provider cleanup failed", map[string]string{
				"terminal_id": id,
				"error":       err.Error(),
			})
		}
	}
	deleted, err := m.store.DeleteTerminal(id)
	if err != nil {
		return err
	}
	if !deleted {
		return fault.NotFound("terminal", id)
	}
	m.logger.Info("terminal deleted", map[string]string{"terminal_id": id})
	m.publish(event.TypeTerminalDeleted, map[string]string{"terminal_id": id})
	return nil
}

// Session describes one orchestrator-owned tmux session and its member
// terminals.
type Session struct {
	Name     string `json:"name"`
	Windows  int    `json:"windows"`
	Attached bool   `json:"attached"`
	// WindowNames is populated on single-session lookups only.
	WindowNames []string         `json:"window_names,omitempty"`
	Terminals   []store.Terminal `json:"terminals"`
}

// ListSessions returns the orchestrator's tmux sessions with their
// registered terminals. Sessions created outside the orchestrator are
// excluded.
func (m *Manager) ListSessions() ([]Session, error) {
	infos, err := m.mux.ListSessions()
	if err != nil {
		return nil, err
	}
	var sessions []Session
	for _, info := range infos {
		if !strings.HasPrefix(info.Name, SessionPrefix) {
			continue
		}
		terminals, err := m.store.ListTerminalsBySession(info.Name)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, Session{
			Name:      info.Name,
			Windows:   info.Windows,
			Attached:  info.Attached,
			Terminals: terminals,
		})
	}
	return sessions, nil
}

// GetSession returns one orchestrator session by name.
func (m *Manager) GetSession(name string) (Session, error) {
	sessions, err := m.ListSessions()
	if err != nil {
		return Session{}, err
	}
	for _, s := range sessions {
		if s.Name != name {
			continue
		}
		windows, err := m.mux.SessionWindows(name)
		if err != nil {
			m.logger.Warn("list session windows failed", map[string]string{
				"session": name,
				"error":   err.Error(),
			})
			return s, nil
		}
		for _, w := range windows {
			s.WindowNames = append(s.WindowNames, w.Name)
		}
		return s, nil
	}
	return Session{}, fault.NotFound("session", name)
}

// DeleteSession kills an orchestrator session and unregisters every
// terminal inside it.
func (m *Manager) DeleteSession(name string) error {
	if !strings.HasPrefix(name, SessionPrefix) {
		return fault.Validation("session '%s' is not managed by this orchestrator", name)
	}
	exists, err := m.mux.HasSession(name)
	if err != nil {
		return err
	}
	if !exists {
		return fault.NotFound("session", name)
	}

	terminals, err := m.store.ListTerminalsBySession(name)
	if err != nil {
		return err
	}
	for _, term := range terminals {
		if err := m.mux.StopPipePane(term.SessionName, term.WindowName); err != nil {
			m.logger.Warn("stop pipe-pane failed", map[string]string{
				"terminal_id": term.ID,
				"error":       err.Error(),
			})
		}
		if prov, err := providerFor(term); err == nil {
			if err := prov.Cleanup(term.ID); err != nil {
				m.logger.Warn("provider cleanup failed", map[string]string{
					"terminal_id": term.ID,
					"error":       err.Error(),
				})
			}
		}
	}

	if err := m.mux.KillSession(name); err != nil {
		return fmt.Errorf("kill session: %w", err)
	}
	removed, err := m.store.DeleteTerminalsBySession(name)
	if err != nil {
		return err
	}
	m.logger.Info("session deleted", map[string]string{
		"session":   name,
		"terminals": fmt.Sprintf("%d", removed),
	})
	for _, term := range terminals {
		m.publish(event.TypeTerminalDeleted, map[string]string{"terminal_id": term.ID})
	}
	return nil
}

// Store exposes the registry for collaborating services.
func (m *Manager) Store() *store.Store {
	return m.store
}

func (m *Manager) publish(eventType event.Type, fields map[string]string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event.New(eventType, fields))
}

func providerFor(term store.Terminal) (provider.Provider, error) {
	kind, err := provider.ParseKind(term.Provider)
	if err != nil {
		return nil, err
	}
	return provider.New(kind, term.AgentProfile)
}
