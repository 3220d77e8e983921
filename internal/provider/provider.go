// Package provider encapsulates backend-specific behavior of the agent
// CLIs the orchestrator drives: how to start their REPL, how to read
// busy/idle state out of raw terminal output, how to isolate the last
// reply, and how to exit cleanly.
package provider

import (
	"agentmux/internal/fault"
)

// Status is the derived state of a terminal, recomputed from output on
// every read and never persisted.
type Status string

const (
	StatusIdle              Status = "IDLE"
	StatusProcessing        Status = "PROCESSING"
	StatusCompleted         Status = "COMPLETED"
	StatusWaitingUserAnswer Status = "WAITING_USER_ANSWER"
	StatusError             Status = "ERROR"
)

// Kind selects a provider implementation; it is stored on the terminal row.
type Kind string

const (
	KindQCLI    Kind = "q_cli"
	KindKiroCLI Kind = "kiro_cli"
)

// ParseKind validates a provider kind received from the outside.
func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case KindQCLI:
		return KindQCLI, nil
	case KindKiroCLI:
		return KindKiroCLI, nil
	default:
		return "", fault.Validation("invalid provider kind '%s'", value)
	}
}

// Provider is the closed per-backend capability contract. Status and
// ExtractLastMessage are pure functions over captured output so they can
// be tested against fixture logs.
type Provider interface {
	Kind() Kind
	// Command is the input line that starts the backend REPL for the
	// configured agent profile.
	Command() string
	// Status classifies the current terminal state from the most recent
	// portion of captured output. Missing or empty output classifies as
	// a safe non-idle state, never an error return.
	Status(tail string) Status
	// ExtractLastMessage isolates the most recent agent reply from full
	// scrollback, with terminal escape sequences stripped.
	ExtractLastMessage(output string) (string, error)
	// ExitCommand is the input sequence that terminates the REPL.
	ExitCommand() string
	// Cleanup releases backend-side resources tied to a terminal.
	Cleanup(terminalID string) error
}

// New constructs the provider for a kind and agent profile. The profile
// participates in prompt detection, so providers are built per terminal.
func New(kind Kind, agentProfile string) (Provider, error) {
	switch kind {
	case KindQCLI:
		return newChatREPL(KindQCLI, "q", agentProfile), nil
	case KindKiroCLI:
		return newChatREPL(KindKiroCLI, "kiro", agentProfile), nil
	default:
		return nil, fault.Validation("invalid provider kind '%s'", string(kind))
	}
}
