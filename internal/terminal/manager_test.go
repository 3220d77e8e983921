package terminal

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"agentmux/internal/fault"
	"agentmux/internal/provider"
	"agentmux/internal/store"
	"agentmux/internal/tmux"
)

// fakeMux records multiplexer calls and replays canned pane output.
type fakeMux struct {
	calls    []string
	sessions map[string]bool
	history  string
	paneDir  string
	sendErr  error
}

func newFakeMux() *fakeMux {
	return &fakeMux{sessions: map[string]bool{}}
}

func (f *fakeMux) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeMux) CreateSession(sessionName, windowName, terminalID, workdir string) error {
	f.record("create-session %s %s", sessionName, windowName)
	f.sessions[sessionName] = true
	return nil
}

func (f *fakeMux) CreateWindow(sessionName, windowName, terminalID, workdir string) error {
	f.record("create-window %s %s", sessionName, windowName)
	return nil
}

func (f *fakeMux) SendText(sessionName, windowName, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.record("send %s:%s %s", sessionName, windowName, text)
	return nil
}

func (f *fakeMux) GetHistory(sessionName, windowName string, tailLines int) (string, error) {
	f.record("history %s:%s %d", sessionName, windowName, tailLines)
	return f.history, nil
}

func (f *fakeMux) PipePane(sessionName, windowName, logPath string) error {
	f.record("pipe-pane %s:%s %s", sessionName, windowName, logPath)
	return nil
}

func (f *fakeMux) StopPipePane(sessionName, windowName string) error {
	f.record("stop-pipe %s:%s", sessionName, windowName)
	return nil
}

func (f *fakeMux) PaneWorkingDirectory(sessionName, windowName string) (string, error) {
	return f.paneDir, nil
}

func (f *fakeMux) KillSession(name string) error {
	f.record("kill-session %s", name)
	delete(f.sessions, name)
	return nil
}

func (f *fakeMux) HasSession(name string) (bool, error) {
	return f.sessions[name], nil
}

func (f *fakeMux) ListSessions() ([]tmux.SessionInfo, error) {
	var infos []tmux.SessionInfo
	for name := range f.sessions {
		infos = append(infos, tmux.SessionInfo{Name: name, Windows: 1})
	}
	return infos, nil
}

func (f *fakeMux) SessionWindows(sessionName string) ([]tmux.WindowInfo, error) {
	if !f.sessions[sessionName] {
		return nil, nil
	}
	return []tmux.WindowInfo{{Index: "0", Name: "win-main"}}, nil
}

func newTestManager(t *testing.T, mux *fakeMux) *Manager {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := NewManager(Options{
		Store:  s,
		Mux:    mux,
		LogDir: t.TempDir(),
	})
	next := 0
	m.newID = func() string {
		next++
		return fmt.Sprintf("id%06d", next)
	}
	return m
}

func hasCall(calls []string, prefix string) bool {
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func TestCreateTerminalNewSession(t *testing.T) {
	mux := newFakeMux()
	m := newTestManager(t, mux)

	term, err := m.CreateTerminal(CreateRequest{AgentProfile: "developer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if term.SessionName != "amx-id000001" || term.WindowName != "win-id000001" {
		t.Fatalf("unexpected naming: %+v", term)
	}
	if term.Provider != "q_cli" {
		t.Fatalf("default provider not applied: %q", term.Provider)
	}
	if !hasCall(mux.calls, "create-session amx-id000001 win-id000001") {
		t.Fatalf("session not created: %v", mux.calls)
	}
	if !hasCall(mux.calls, "pipe-pane amx-id000001:win-id000001") {
		t.Fatalf("pipe-pane not wired: %v", mux.calls)
	}
	if !hasCall(mux.calls, "send amx-id000001:win-id000001 q chat --agent developer") {
		t.Fatalf("provider not started: %v", mux.calls)
	}

	stored, err := m.store.GetTerminal(term.ID)
	if err != nil {
		t.Fatalf("terminal not registered: %v", err)
	}
	if stored.AgentProfile != "developer" {
		t.Fatalf("unexpected row: %+v", stored)
	}
}

func TestCreateTerminalJoinsExistingSession(t *testing.T) {
	mux := newFakeMux()
	mux.sessions["amx-parent"] = true
	m := newTestManager(t, mux)

	term, err := m.CreateTerminal(CreateRequest{AgentProfile: "reviewer", SessionName: "amx-parent"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if term.SessionName != "amx-parent" {
		t.Fatalf("did not join session: %+v", term)
	}
	if !hasCall(mux.calls, "create-window amx-parent win-id000001") {
		t.Fatalf("window not created: %v", mux.calls)
	}
	if hasCall(mux.calls, "create-session") {
		t.Fatalf("unexpected session creation: %v", mux.calls)
	}
}

func TestCreateTerminalUnknownSession(t *testing.T) {
	m := newTestManager(t, newFakeMux())

	_, err := m.CreateTerminal(CreateRequest{AgentProfile: "dev", SessionName: "amx-missing"})
	var notFound *fault.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCreateTerminalValidation(t *testing.T) {
	m := newTestManager(t, newFakeMux())

	var validation *fault.ValidationError
	if _, err := m.CreateTerminal(CreateRequest{}); !errors.As(err, &validation) {
		t.Fatalf("expected validation error for missing profile, got %v", err)
	}
	if _, err := m.CreateTerminal(CreateRequest{AgentProfile: "dev", Provider: "nope"}); !errors.As(err, &validation) {
		t.Fatalf("expected validation error for bad provider, got %v", err)
	}
}

func TestGetTerminalStatus(t *testing.T) {
	mux := newFakeMux()
	m := newTestManager(t, mux)

	term, err := m.CreateTerminal(CreateRequest{AgentProfile: "developer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mux.history = "\x1b[36m[developer]\x1b[35m>\x1b[39m "
	_, status, err := m.GetTerminal(term.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status != provider.StatusIdle {
		t.Fatalf("status = %s, expected IDLE", status)
	}

	mux.history = "crunching away on the task"
	_, status, err = m.GetTerminal(term.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status != provider.StatusProcessing {
		t.Fatalf("status = %s, expected PROCESSING", status)
	}
}

func TestGetOutputModes(t *testing.T) {
	mux := newFakeMux()
	m := newTestManager(t, mux)

	term, err := m.CreateTerminal(CreateRequest{AgentProfile: "developer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mux.history = "\x1b[38;5;10m> \x1b[39mDone with the task\n\x1b[36m[developer]\x1b[35m>\x1b[39m "

	full, err := m.GetOutput(term.ID, OutputFull)
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	if full != mux.history {
		t.Fatalf("FULL should return raw history: %q", full)
	}

	last, err := m.GetOutput(term.ID, OutputLast)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last != "Done with the task" {
		t.Fatalf("LAST = %q", last)
	}
}

func TestSendInputTouchesTerminal(t *testing.T) {
	mux := newFakeMux()
	m := newTestManager(t, mux)

	term, err := m.CreateTerminal(CreateRequest{AgentProfile: "developer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.SendInput(term.ID, "hello there"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !hasCall(mux.calls, "send amx-id000001:win-id000001 hello there") {
		t.Fatalf("input not sent: %v", mux.calls)
	}

	if err := m.SendInput("missing", "x"); err == nil {
		t.Fatal("expected not-found for unknown terminal")
	}
}

func TestDeleteTerminal(t *testing.T) {
	mux := newFakeMux()
	m := newTestManager(t, mux)

	term, err := m.CreateTerminal(CreateRequest{AgentProfile: "developer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.DeleteTerminal(term.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !hasCall(mux.calls, "stop-pipe amx-id000001:win-id000001") {
		t.Fatalf("pipe-pane not stopped: %v", mux.calls)
	}

	var notFound *fault.NotFoundError
	if err := m.DeleteTerminal(term.ID); !errors.As(err, &notFound) {
		t.Fatalf("second delete should be not-found, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	mux := newFakeMux()
	m := newTestManager(t, mux)

	first, err := m.CreateTerminal(CreateRequest{AgentProfile: "developer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateTerminal(CreateRequest{AgentProfile: "reviewer", SessionName: first.SessionName}); err != nil {
		t.Fatalf("create second: %v", err)
	}
	mux.sessions["not-ours"] = true

	sessions, err := m.ListSessions()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != first.SessionName {
		t.Fatalf("expected only the managed session: %+v", sessions)
	}
	if len(sessions[0].Terminals) != 2 {
		t.Fatalf("expected 2 member terminals, got %d", len(sessions[0].Terminals))
	}

	if err := m.DeleteSession(first.SessionName); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if !hasCall(mux.calls, "kill-session "+first.SessionName) {
		t.Fatalf("session not killed: %v", mux.calls)
	}
	if _, err := m.store.GetTerminal(first.ID); err == nil {
		t.Fatal("member terminal still registered")
	}

	if err := m.DeleteSession("not-ours"); err == nil {
		t.Fatal("expected refusal to delete a foreign session")
	}
}

func TestParseOutputMode(t *testing.T) {
	if mode, err := ParseOutputMode(""); err != nil || mode != OutputFull {
		t.Fatalf("empty mode: %v %v", mode, err)
	}
	if mode, err := ParseOutputMode("last"); err != nil || mode != OutputLast {
		t.Fatalf("lowercase mode: %v %v", mode, err)
	}
	if _, err := ParseOutputMode("partial"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
