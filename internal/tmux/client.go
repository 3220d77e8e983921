// Package tmux shells out to the tmux binary, which owns every
// pseudo-terminal the orchestrator manages. The orchestrator core never
// touches PTYs directly; it creates sessions and windows here, injects
// keystrokes, and reads captured scrollback back out.
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"agentmux/internal/config"
	"agentmux/internal/fault"
)

const (
	// DefaultHistoryLines bounds capture-pane scrollback reads.
	DefaultHistoryLines = 200
	// sendChunkSize bounds one literal send-keys payload; tmux rejects
	// very long single arguments on some platforms.
	sendChunkSize = 100
	// interChunkDelay lets the client REPL drain its input buffer
	// between chunks of a long payload.
	interChunkDelay = 50 * time.Millisecond
)

// CommandRunner executes tmux commands with optional stdin data.
type CommandRunner interface {
	Run(args []string, input []byte) ([]byte, error)
}

// SessionInfo describes one tmux session.
type SessionInfo struct {
	Name     string `json:"name"`
	Windows  int    `json:"windows"`
	Attached bool   `json:"attached"`
}

// WindowInfo describes one window inside a session.
type WindowInfo struct {
	Index string `json:"index"`
	Name  string `json:"name"`
}


// Client executes tmux commands through a CommandRunner.
type Client struct {
	runner CommandRunner
	sleep  func(time.Duration)

	// extraEnv is exported into every created session and window, on
	// top of the per-terminal identity variable.
	extraEnv map[string]string
}

// NewClient returns a tmux client using the default exec-based runner.
func NewClient() *Client {
	return NewClientWithRunner(execRunner{})
}

// NewClientWithRunner returns a tmux client using a custom command runner.
func NewClientWithRunner(runner CommandRunner) *Client {
	return &Client{runner: runner, sleep: time.Sleep}
}

// SetEnv exports an additional variable into every session and window
// the client creates, e.g. the orchestrator's API base URL so agents
// can reach back into it.
func (c *Client) SetEnv(key, value string) {
	if c.extraEnv == nil {
		c.extraEnv = make(map[string]string)
	}
	c.extraEnv[key] = value
}

func (c *Client) envArgs() []string {
	if len(c.extraEnv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.extraEnv))
	for key := range c.extraEnv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]string, 0, 2*len(keys))
	for _, key := range keys {
		args = append(args, "-e", key+"="+c.extraEnv[key])
	}
	return args
}

// CreateSession creates a detached session with one named window. The
// terminal identity is exported into the window environment so the agent
// process can attribute inbox sends to itself.
func (c *Client) CreateSession(sessionName, windowName, terminalID, workdir string) error {
	dir, err := ResolveWorkingDirectory(workdir)
	if err != nil {
		return err
	}
	args := []string{
		"new-session", "-d",
		"-s", sessionName,
		"-n", windowName,
		"-c", dir,
		"-e", config.TerminalIDEnv + "=" + terminalID,
	}
	args = append(args, c.envArgs()...)
	return c.run(args, nil)
}

// CreateWindow adds a window to an existing session.
func (c *Client) CreateWindow(sessionName, windowName, terminalID, workdir string) error {
	dir, err := ResolveWorkingDirectory(workdir)
	if err != nil {
		return err
	}
	args := []string{
		"new-window",
		"-t", sessionName,
		"-n", windowName,
		"-c", dir,
		"-e", config.TerminalIDEnv + "=" + terminalID,
	}
	args = append(args, c.envArgs()...)
	return c.run(args, nil)
}

// SendText injects text into a window followed by an explicit submit
// keystroke. Long payloads are split into chunks on whitespace so tmux
// never sees an oversized argument; every chunk is sent literally and a
// single C-m terminates the whole payload.
func (c *Client) SendText(sessionName, windowName, text string) error {
	target := Target(sessionName, windowName)
	chunks := splitChunks(text, sendChunkSize)
	for i, chunk := range chunks {
		if err := c.run([]string{"send-keys", "-t", target, "-l", chunk}, nil); err != nil {
			return err
		}
		if i < len(chunks)-1 && c.sleep != nil {
			c.sleep(interChunkDelay)
		}
	}
	return c.run([]string{"send-keys", "-t", target, "C-m"}, nil)
}

// GetHistory captures the most recent tailLines of window scrollback,
// escape sequences included. tailLines <= 0 uses DefaultHistoryLines.
func (c *Client) GetHistory(sessionName, windowName string, tailLines int) (string, error) {
	if tailLines <= 0 {
		tailLines = DefaultHistoryLines
	}
	args := []string{
		"capture-pane", "-e", "-p",
		"-S", "-" + strconv.Itoa(tailLines),
		"-t", Target(sessionName, windowName),
	}
	output, err := c.runWithOutput(args, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(output), "\n"), nil
}

// PipePane streams all window output into a log file, appending.
func (c *Client) PipePane(sessionName, windowName, logPath string) error {
	command := "cat >> " + logPath
	return c.run([]string{"pipe-pane", "-t", Target(sessionName, windowName), "-o", command}, nil)
}

// StopPipePane stops output streaming for the window.
func (c *Client) StopPipePane(sessionName, windowName string) error {
	return c.run([]string{"pipe-pane", "-t", Target(sessionName, windowName)}, nil)
}

// PaneWorkingDirectory reports the active pane's current directory, or
// "" when tmux cannot resolve it.
func (c *Client) PaneWorkingDirectory(sessionName, windowName string) (string, error) {
	args := []string{"display-message", "-p", "-t", Target(sessionName, windowName), "#{pane_current_path}"}
	output, err := c.runWithOutput(args, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// KillSession terminates a tmux session and every window in it.
func (c *Client) KillSession(name string) error {
	return c.run([]string{"kill-session", "-t", name}, nil)
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(name string) (bool, error) {
	if c == nil || c.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run([]string{"has-session", "-t", name}, nil)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		if len(output) > 0 {
			return false, fmt.Errorf("tmux has-session failed: %s", bytes.TrimSpace(output))
		}
		return false, fmt.Errorf("tmux has-session failed: %w", err)
	}
	return true, nil
}

// ListSessions enumerates all sessions known to the tmux server. A
// missing server is reported as an empty list, not an error.
func (c *Client) ListSessions() ([]SessionInfo, error) {
	if c == nil || c.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	args := []string{"list-sessions", "-F", "#{session_name}|#{session_windows}|#{session_attached}"}
	output, err := c.runner.Run(args, nil)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions failed: %w", err)
	}
	var sessions []SessionInfo
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		windows, _ := strconv.Atoi(parts[1])
		attached, _ := strconv.Atoi(parts[2])
		sessions = append(sessions, SessionInfo{
			Name:     parts[0],
			Windows:  windows,
			Attached: attached > 0,
		})
	}
	return sessions, nil
}

// SessionWindows enumerates the windows of one session.
func (c *Client) SessionWindows(sessionName string) ([]WindowInfo, error) {
	args := []string{"list-windows", "-t", sessionName, "-F", "#{window_index}|#{window_name}"}
	output, err := c.runWithOutput(args, nil)
	if err != nil {
		return nil, err
	}
	var windows []WindowInfo
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		if len(parts) != 2 {
			continue
		}
		windows = append(windows, WindowInfo{Index: parts[0], Name: parts[1]})
	}
	return windows, nil
}

// Target formats a tmux pane target for a session/window pair.
func Target(sessionName, windowName string) string {
	return sessionName + ":" + windowName
}

// ResolveWorkingDirectory validates a requested working directory,
// defaulting to the process working directory when empty.
func ResolveWorkingDirectory(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		dir, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return dir, nil
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", fault.Validation("working directory does not exist: %s", path)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", fault.Validation("working directory does not exist: %s", path)
	}
	return resolved, nil
}

func splitChunks(text string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > size {
		cut := strings.LastIndexByte(remaining[:size], ' ')
		if cut <= 0 {
			// No whitespace boundary; back off so a multi-byte rune
			// is never split across two send-keys calls.
			cut = size
			for cut > 0 && !utf8.RuneStart(remaining[cut]) {
				cut--
			}
			if cut == 0 {
				cut = size
			}
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func (c *Client) run(args []string, input []byte) error {
	_, err := c.runWithOutput(args, input)
	return err
}

func (c *Client) runWithOutput(args []string, input []byte) ([]byte, error) {
	if c == nil || c.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run(args, input)
	if err != nil {
		if len(output) > 0 {
			return nil, fmt.Errorf("tmux %s failed: %s", args[0], bytes.TrimSpace(output))
		}
		return nil, fmt.Errorf("tmux %s failed: %w", args[0], err)
	}
	return output, nil
}

type execRunner struct{}

func (execRunner) Run(args []string, input []byte) ([]byte, error) {
	cmd := exec.Command("tmux", args...)
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}
	return cmd.CombinedOutput()
}
