package provider

import (
	"errors"
	"regexp"
	"strings"
)

// ansiPattern strips CSI escape sequences from captured output.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// replyMarker is the green arrow both chat REPLs print at the start of
// an agent reply.
var replyMarker = regexp.MustCompile(`\x1b\[38;5;10m> ?\x1b\[39m`)

// permissionPrompt appears when the agent asks the operator to approve
// a tool action; the terminal is waiting on a human, not idle.
var permissionPrompt = regexp.MustCompile(`Allow this action\? \[y/n/t\]:`)

const troubleBanner = "having trouble responding right now"

var (
	errNoReply         = errors.New("no agent reply found in output")
	errIncompleteReply = errors.New("incomplete agent reply in output")
	errEmptyReply      = errors.New("empty agent reply in output")
)

// chatREPL implements the shared terminal behavior of the q and kiro
// chat CLIs: a colored `[profile]>` idle prompt (optionally carrying a
// context-usage percentage), a green-arrow reply marker, and slash
// commands for exit.
type chatREPL struct {
	kind       Kind
	binary     string
	profile    string
	idlePrompt *regexp.Regexp
}

func newChatREPL(kind Kind, binary, agentProfile string) *chatREPL {
	prompt := regexp.MustCompile(
		`\x1b\[36m\[` + regexp.QuoteMeta(agentProfile) + `\](?: \x1b\[32m\d+%)?\x1b\[35m>\x1b\[39m`,
	)
	return &chatREPL{
		kind:       kind,
		binary:     binary,
		profile:    agentProfile,
		idlePrompt: prompt,
	}
}

func (p *chatREPL) Kind() Kind {
	return p.kind
}

func (p *chatREPL) Command() string {
	return p.binary + " chat --agent " + p.profile
}

func (p *chatREPL) ExitCommand() string {
	return "/quit"
}

// Status classifies the tail of captured output. Order matters: the
// permission prompt and the trouble banner both end with a fresh idle
// prompt, so they are checked before the reply/idle distinction.
func (p *chatREPL) Status(tail string) Status {
	if strings.TrimSpace(tail) == "" {
		return StatusError
	}

	prompts := p.idlePrompt.FindAllStringIndex(tail, -1)
	if len(prompts) == 0 {
		return StatusProcessing
	}
	lastPrompt := prompts[len(prompts)-1]

	if permissionPrompt.MatchString(tail) {
		return StatusWaitingUserAnswer
	}
	if strings.Contains(tail, troubleBanner) {
		return StatusError
	}

	if marker := replyMarker.FindAllStringIndex(tail, -1); len(marker) > 0 {
		if marker[len(marker)-1][0] < lastPrompt[0] {
			return StatusCompleted
		}
	}
	return StatusIdle
}

// ExtractLastMessage returns the text between the last reply marker and
// the idle prompt that follows it, with escape sequences removed.
func (p *chatREPL) ExtractLastMessage(output string) (string, error) {
	markers := replyMarker.FindAllStringIndex(output, -1)
	if len(markers) == 0 {
		return "", errNoReply
	}
	start := markers[len(markers)-1][1]

	prompt := p.idlePrompt.FindStringIndex(output[start:])
	if prompt == nil {
		return "", errIncompleteReply
	}

	message := strings.TrimSpace(ansiPattern.ReplaceAllString(output[start:start+prompt[0]], ""))
	if message == "" {
		return "", errEmptyReply
	}
	return message, nil
}

// Cleanup has nothing to release: the REPL runs entirely inside the
// orchestrator-owned tmux window.
func (p *chatREPL) Cleanup(string) error {
	return nil
}
