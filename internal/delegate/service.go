// Package delegate implements agent-to-agent task delegation: blocking
// handoffs, fire-and-forget assignments, and inbox sends on behalf of
// the calling terminal.
package delegate

import (
	"context"
	"fmt"
	"time"

	"agentmux/internal/config"
	"agentmux/internal/fault"
	"agentmux/internal/inbox"
	"agentmux/internal/logging"
	"agentmux/internal/provider"
	"agentmux/internal/store"
	"agentmux/internal/terminal"
)

const (
	// DefaultTimeout bounds a handoff wait when the caller names none.
	DefaultTimeout = 600 * time.Second
	// MinTimeout and MaxTimeout clamp caller-supplied handoff timeouts.
	MinTimeout = 1 * time.Second
	MaxTimeout = 3600 * time.Second

	// idleWait is how long a fresh worker terminal gets to show its
	// first idle prompt before the handoff is abandoned.
	idleWait = 30 * time.Second

	// startupGrace absorbs provider banners that print after the first
	// idle prompt and would otherwise swallow the task message.
	startupGrace = 2 * time.Second

	pollInterval = time.Second
)

// Result is the structured outcome of a delegation. Failures are
// reported here, not as errors, so a supervising agent always gets a
// parseable verdict.
type Result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Output     string `json:"output,omitempty"`
	TerminalID string `json:"terminal_id,omitempty"`
}

// Options configures a Service.
type Options struct {
	Manager *terminal.Manager
	Inbox   *inbox.Engine
	Logger  *logging.Logger
	// CallerID is this process's own terminal identity, empty when the
	// server runs outside a managed terminal.
	CallerID string
	// EnableWorkingDirectory permits callers to choose the worker's
	// working directory.
	EnableWorkingDirectory bool
}

// Service creates worker terminals on behalf of a calling agent.
type Service struct {
	manager       *terminal.Manager
	inbox         *inbox.Engine
	logger        *logging.Logger
	callerID      string
	enableWorkdir bool

	idleWait     time.Duration
	startupGrace time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		manager:       opts.Manager,
		inbox:         opts.Inbox,
		logger:        logger,
		callerID:      opts.CallerID,
		enableWorkdir: opts.EnableWorkingDirectory,
		idleWait:      idleWait,
		startupGrace:  startupGrace,
		pollInterval:  pollInterval,
		now:           time.Now,
	}
}

// HandoffRequest describes a blocking delegation.
type HandoffRequest struct {
	AgentProfile string
	Message      string
	// Timeout bounds the wait for completion; zero means the default.
	Timeout time.Duration
	// WorkingDir is honored only when the service enables it.
	WorkingDir string
}

// Handoff creates a worker terminal, sends it the task, waits for the
// worker to finish, and returns its reply. The worker terminal is torn
// down on success.
func (s *Service) Handoff(ctx context.Context, req HandoffRequest) Result {
	start := s.now()
	timeout := clampTimeout(req.Timeout)

	worker, err := s.createWorker(req.AgentProfile, req.WorkingDir)
	if err != nil {
		return Result{Success: false, Message: "Handoff failed: " + err.Error()}
	}

	if !s.waitForStatus(ctx, worker, provider.StatusIdle, s.idleWait) {
		return Result{
			Success:    false,
			Message:    fmt.Sprintf("Terminal %s did not reach IDLE status within 30 seconds", worker.ID),
			TerminalID: worker.ID,
		}
	}
	s.pause(ctx, s.startupGrace)

	if err := s.manager.SendInput(worker.ID, req.Message); err != nil {
		return Result{
			Success:    false,
			Message:    "Handoff failed: " + err.Error(),
			TerminalID: worker.ID,
		}
	}

	if !s.waitForStatus(ctx, worker, provider.StatusCompleted, timeout) {
		return Result{
			Success:    false,
			Message:    fmt.Sprintf("Handoff timed out after %d seconds", int(timeout.Seconds())),
			TerminalID: worker.ID,
		}
	}

	output, err := s.manager.GetOutput(worker.ID, terminal.OutputLast)
	if err != nil {
		return Result{
			Success:    false,
			Message:    "Handoff failed: " + err.Error(),
			TerminalID: worker.ID,
		}
	}
	if err := s.manager.ExitTerminal(worker.ID); err != nil {
		s.logger.Warn("worker teardown failed", map[string]string{
			"terminal_id": worker.ID,
			"error":       err.Error(),
		})
	}

	elapsed := s.now().Sub(start)
	s.logger.Info("handoff completed", map[string]string{
		"terminal_id":   worker.ID,
		"agent_profile": req.AgentProfile,
	})
	return Result{
		Success:    true,
		Message:    fmt.Sprintf("Successfully handed off to %s (%s) in %.2fs", req.AgentProfile, worker.Provider, elapsed.Seconds()),
		Output:     output,
		TerminalID: worker.ID,
	}
}

// AssignRequest describes a non-blocking delegation.
type AssignRequest struct {
	AgentProfile string
	Message      string
	WorkingDir   string
}

// Assign creates a worker terminal, injects the task immediately, and
// returns without waiting. The caller is expected to have asked the
// worker to report back through the inbox.
func (s *Service) Assign(req AssignRequest) Result {
	worker, err := s.createWorker(req.AgentProfile, req.WorkingDir)
	if err != nil {
		return Result{Success: false, Message: "Assignment failed: " + err.Error()}
	}
	if err := s.manager.SendInput(worker.ID, req.Message); err != nil {
		return Result{
			Success:    false,
			Message:    "Assignment failed: " + err.Error(),
			TerminalID: worker.ID,
		}
	}
	s.logger.Info("task assigned", map[string]string{
		"terminal_id":   worker.ID,
		"agent_profile": req.AgentProfile,
	})
	return Result{
		Success:    true,
		Message:    fmt.Sprintf("Task assigned to %s (terminal: %s)", req.AgentProfile, worker.ID),
		TerminalID: worker.ID,
	}
}

// SendMessage queues a message for another terminal on behalf of the
// calling terminal. The caller must have a terminal identity.
func (s *Service) SendMessage(receiverID, message string) (int64, error) {
	if s.callerID == "" {
		return 0, fault.Precondition("%s not set - cannot determine sender", config.TerminalIDEnv)
	}
	return s.inbox.Send(s.callerID, receiverID, message)
}

// createWorker provisions the delegation target. When the caller runs
// inside a managed terminal, the worker inherits its provider, its tmux
// session, and (unless overridden) its current working directory.
func (s *Service) createWorker(agentProfile, workingDir string) (store.Terminal, error) {
	if !s.enableWorkdir {
		workingDir = ""
	}

	req := terminal.CreateRequest{
		AgentProfile: agentProfile,
		WorkingDir:   workingDir,
	}
	if s.callerID != "" {
		caller, err := s.manager.Store().GetTerminal(s.callerID)
		if err != nil {
			return store.Terminal{}, err
		}
		req.Provider = caller.Provider
		req.SessionName = caller.SessionName
		if req.WorkingDir == "" {
			cwd, err := s.manager.GetWorkingDirectory(s.callerID)
			if err != nil {
				s.logger.Warn("caller working directory unavailable", map[string]string{
					"terminal_id": s.callerID,
					"error":       err.Error(),
				})
			} else {
				req.WorkingDir = cwd
			}
		}
	}
	return s.manager.CreateTerminal(req)
}

// waitForStatus polls the worker until it reaches the wanted status.
// Classification errors are tolerated; a terminal that briefly cannot
// be read is treated as not-there-yet.
func (s *Service) waitForStatus(ctx context.Context, term store.Terminal, want provider.Status, timeout time.Duration) bool {
	deadline := s.now().Add(timeout)
	for {
		status, err := s.manager.Status(term)
		if err == nil && status == want {
			return true
		}
		if s.now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *Service) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func clampTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout == 0:
		return DefaultTimeout
	case timeout < MinTimeout:
		return MinTimeout
	case timeout > MaxTimeout:
		return MaxTimeout
	default:
		return timeout
	}
}
