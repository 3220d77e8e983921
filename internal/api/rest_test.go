package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"agentmux/internal/delegate"
	"agentmux/internal/event"
	"agentmux/internal/flow"
	"agentmux/internal/inbox"
	"agentmux/internal/store"
	"agentmux/internal/terminal"
	"agentmux/internal/tmux"
)

const idlePrompt = "\x1b[36m[developer]\x1b[35m>\x1b[39m "

// stubMux answers every query with canned data and records SendText
// calls so tests can assert on injected input.
type stubMux struct {
	mu       sync.Mutex
	history  string
	sessions map[string]bool
	sent     []string
}

func newStubMux() *stubMux {
	return &stubMux{sessions: make(map[string]bool)}
}

func (m *stubMux) sentText() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *stubMux) CreateSession(sessionName, _, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionName] = true
	return nil
}

func (m *stubMux) CreateWindow(string, string, string, string) error { return nil }

func (m *stubMux) SendText(_, _, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *stubMux) GetHistory(string, string, int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history, nil
}

func (m *stubMux) PipePane(string, string, string) error               { return nil }
func (m *stubMux) StopPipePane(string, string) error                   { return nil }
func (m *stubMux) PaneWorkingDirectory(string, string) (string, error) { return "/work", nil }

func (m *stubMux) KillSession(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, name)
	return nil
}

func (m *stubMux) HasSession(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[name], nil
}

func (m *stubMux) SessionWindows(sessionName string) ([]tmux.WindowInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sessions[sessionName] {
		return nil, nil
	}
	return []tmux.WindowInfo{{Index: "0", Name: "win-main"}}, nil
}

func (m *stubMux) ListSessions() ([]tmux.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]tmux.SessionInfo, 0, len(m.sessions))
	for name := range m.sessions {
		infos = append(infos, tmux.SessionInfo{Name: name, Windows: 1})
	}
	return infos, nil
}

type apiFixture struct {
	mux     *stubMux
	store   *store.Store
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	stub := newStubMux()
	manager := terminal.NewManager(terminal.Options{
		Store:           s,
		Mux:             stub,
		LogDir:          t.TempDir(),
		DefaultProvider: "q_cli",
	})
	engine := inbox.NewEngine(inbox.EngineOptions{Store: s, Manager: manager})
	delegator := delegate.NewService(delegate.Options{Manager: manager, Inbox: engine})
	flows := flow.NewService(flow.ServiceOptions{Store: s, Manager: manager})
	bus := event.NewBus()
	t.Cleanup(bus.Close)

	serveMux := http.NewServeMux()
	RegisterRoutes(serveMux, RouterOptions{
		Rest: &RestHandler{
			Manager:  manager,
			Inbox:    engine,
			Delegate: delegator,
			Flows:    flows,
		},
		Bus: bus,
	})
	return &apiFixture{mux: stub, store: s, handler: serveMux}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (f *apiFixture) createTerminal(t *testing.T) terminalResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", createTerminalRequest{
		Provider:     "q_cli",
		AgentProfile: "developer",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create terminal: status %d body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[terminalResponse](t, rec)
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.createTerminal(t)

	rec := f.do(t, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	payload := decodeBody[statusResponse](t, rec)
	if payload.TerminalCount != 1 {
		t.Fatalf("terminal count = %d, want 1", payload.TerminalCount)
	}
	if payload.SessionCount != 1 {
		t.Fatalf("session count = %d, want 1", payload.SessionCount)
	}
}

func TestCreateTerminalAndFetch(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTerminal(t)
	if !strings.HasPrefix(created.SessionName, "amx-") {
		t.Fatalf("session name %q lacks prefix", created.SessionName)
	}

	f.mux.history = idlePrompt
	rec := f.do(t, http.MethodGet, "/api/terminals/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get terminal: status %d body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[terminalResponse](t, rec)
	if got.ID != created.ID {
		t.Fatalf("id = %q, want %q", got.ID, created.ID)
	}
	if got.Status != "IDLE" {
		t.Fatalf("status = %q, want IDLE", got.Status)
	}
}

func TestCreateTerminalValidation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/sessions", createTerminalRequest{Provider: "q_cli"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	payload := decodeBody[errorResponse](t, rec)
	if payload.Code != "invalid_request" {
		t.Fatalf("code = %q", payload.Code)
	}
}

func TestTerminalNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/terminals/deadbeef", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	payload := decodeBody[errorResponse](t, rec)
	if payload.Error != "terminal 'deadbeef' not found" {
		t.Fatalf("error = %q", payload.Error)
	}
	if payload.Code != "not_found" {
		t.Fatalf("code = %q", payload.Code)
	}
}

func TestSendInputAndOutput(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTerminal(t)

	rec := f.do(t, http.MethodPost, "/api/terminals/"+created.ID+"/input", sendInputRequest{Message: "hello worker"})
	if rec.Code != http.StatusOK {
		t.Fatalf("input: status %d body %s", rec.Code, rec.Body.String())
	}
	var found bool
	for _, line := range f.mux.sentText() {
		if line == "hello worker" {
			found = true
		}
	}
	if !found {
		t.Fatalf("input never reached the pane: %v", f.mux.sentText())
	}

	f.mux.history = "line one\nline two\n" + idlePrompt
	rec = f.do(t, http.MethodGet, "/api/terminals/"+created.ID+"/output?mode=full", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("output: status %d", rec.Code)
	}
	payload := decodeBody[outputResponse](t, rec)
	if payload.Mode != "FULL" {
		t.Fatalf("mode = %q", payload.Mode)
	}
	if !strings.Contains(payload.Output, "line one") {
		t.Fatalf("output = %q", payload.Output)
	}
}

func TestOutputModeValidation(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTerminal(t)
	rec := f.do(t, http.MethodGet, "/api/terminals/"+created.ID+"/output?mode=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestWorkingDirectoryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTerminal(t)
	rec := f.do(t, http.MethodGet, "/api/terminals/"+created.ID+"/working-directory", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	payload := decodeBody[workingDirectoryResponse](t, rec)
	if payload.WorkingDirectory != "/work" {
		t.Fatalf("working directory = %q", payload.WorkingDirectory)
	}
}

func TestDeleteTerminalTwice(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTerminal(t)

	rec := f.do(t, http.MethodDelete, "/api/terminals/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first delete: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodDelete, "/api/terminals/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status %d, want 404", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTerminal(t)

	rec := f.do(t, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	sessions := decodeBody[[]sessionResponse](t, rec)
	if len(sessions) != 1 || sessions[0].Name != created.SessionName {
		t.Fatalf("sessions = %+v", sessions)
	}

	rec = f.do(t, http.MethodPost, "/api/sessions/"+created.SessionName+"/terminals", createTerminalRequest{
		AgentProfile: "reviewer",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("join: status %d body %s", rec.Code, rec.Body.String())
	}
	joined := decodeBody[terminalResponse](t, rec)
	if joined.SessionName != created.SessionName {
		t.Fatalf("joined session = %q, want %q", joined.SessionName, created.SessionName)
	}

	rec = f.do(t, http.MethodGet, "/api/sessions/"+created.SessionName, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status %d", rec.Code)
	}
	session := decodeBody[sessionResponse](t, rec)
	if len(session.Terminals) != 2 {
		t.Fatalf("terminals in session = %d, want 2", len(session.Terminals))
	}

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+created.SessionName, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete session: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/terminals", nil)
	remaining := decodeBody[[]terminalResponse](t, rec)
	if len(remaining) != 0 {
		t.Fatalf("terminals after session delete = %d", len(remaining))
	}
}

func TestDeleteForeignSessionRefused(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodDelete, "/api/sessions/personal", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestInboxQueueAndList(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTerminal(t)

	rec := f.do(t, http.MethodPost, "/api/terminals/"+created.ID+"/inbox/messages", sendMessageRequest{
		SenderID: "operator",
		Message:  "status report please",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("queue: status %d body %s", rec.Code, rec.Body.String())
	}
	queued := decodeBody[messageQueuedResponse](t, rec)
	if queued.Status != "PENDING" {
		t.Fatalf("status = %q", queued.Status)
	}

	rec = f.do(t, http.MethodGet, "/api/terminals/"+created.ID+"/inbox/messages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	messages := decodeBody[[]store.Message](t, rec)
	if len(messages) != 1 || messages[0].Body != "status report please" {
		t.Fatalf("messages = %+v", messages)
	}

	rec = f.do(t, http.MethodGet, "/api/terminals/"+created.ID+"/inbox/messages?status=DELIVERED", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delivered list: status %d", rec.Code)
	}
	if delivered := decodeBody[[]store.Message](t, rec); len(delivered) != 0 {
		t.Fatalf("delivered = %+v", delivered)
	}

	rec = f.do(t, http.MethodGet, "/api/terminals/"+created.ID+"/inbox/messages?status=BOGUS", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus status filter: status %d, want 400", rec.Code)
	}
}

func TestInboxRequiresSender(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTerminal(t)
	rec := f.do(t, http.MethodPost, "/api/terminals/"+created.ID+"/inbox/messages", sendMessageRequest{
		Message: "anonymous",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func writeFlowFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".md")
	content := fmt.Sprintf(`---
name: %s
schedule: "0 9 * * *"
agent_profile: developer
---
Run the morning report.
`, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write flow file: %v", err)
	}
	return path
}

func TestFlowEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	path := writeFlowFile(t, t.TempDir(), "daily-report")

	rec := f.do(t, http.MethodPost, "/api/flows", addFlowRequest{Path: path})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: status %d body %s", rec.Code, rec.Body.String())
	}
	added := decodeBody[store.Flow](t, rec)
	if added.Name != "daily-report" || !added.Enabled || added.NextRun == nil {
		t.Fatalf("added = %+v", added)
	}

	rec = f.do(t, http.MethodGet, "/api/flows", nil)
	flows := decodeBody[[]store.Flow](t, rec)
	if len(flows) != 1 {
		t.Fatalf("flows = %+v", flows)
	}

	rec = f.do(t, http.MethodPost, "/api/flows/daily-report/disable", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/flows/daily-report", nil)
	got := decodeBody[store.Flow](t, rec)
	if got.Enabled {
		t.Fatalf("flow still enabled after disable")
	}

	rec = f.do(t, http.MethodPost, "/api/flows/daily-report/enable", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable: status %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/flows/daily-report/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run: status %d body %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[flowRunResponse](t, rec)
	if !result.Executed {
		t.Fatalf("flow did not execute")
	}

	rec = f.do(t, http.MethodDelete, "/api/flows/daily-report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/flows/daily-report", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after remove: status %d, want 404", rec.Code)
	}
}

func TestHandoffValidation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/handoff", handoffRequest{Message: "do it"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestAssignEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/assign", assignRequest{
		AgentProfile: "developer",
		Message:      "investigate the flaky test",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[delegate.Result](t, rec)
	if !result.Success {
		t.Fatalf("assign failed: %s", result.Message)
	}
	if !strings.HasPrefix(result.Message, "Task assigned to developer") {
		t.Fatalf("message = %q", result.Message)
	}
	if result.TerminalID == "" {
		t.Fatalf("missing terminal id")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodDelete, "/api/status", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET" {
		t.Fatalf("Allow = %q", allow)
	}
}

func TestRejectsUnknownFields(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"bogus": true}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}
