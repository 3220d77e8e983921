// Package flow schedules recurring agent tasks. A flow is a markdown
// file whose YAML front matter carries the schedule and agent profile
// and whose body is the prompt template sent to a fresh terminal on
// each run.
package flow

import (
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"agentmux/internal/fault"
)

const frontMatterDelimiter = "---"

// Definition is the parsed front matter of a flow file.
type Definition struct {
	Name         string `yaml:"name"`
	Schedule     string `yaml:"schedule"`
	AgentProfile string `yaml:"agent_profile"`
	Provider     string `yaml:"provider"`
	Script       string `yaml:"script"`
}

// ParseFile reads a flow file and returns its definition and prompt
// template body.
func ParseFile(path string) (Definition, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, "", err
	}
	return Parse(string(data))
}

// Parse splits flow file content into front matter and body and
// validates the required fields.
func Parse(content string) (Definition, string, error) {
	matter, body, err := splitFrontMatter(content)
	if err != nil {
		return Definition{}, "", err
	}

	var def Definition
	if err := yaml.Unmarshal([]byte(matter), &def); err != nil {
		return Definition{}, "", fault.Validation("invalid front matter: %v", err)
	}
	for _, field := range []struct{ name, value string }{
		{"name", def.Name},
		{"schedule", def.Schedule},
		{"agent_profile", def.AgentProfile},
	} {
		if strings.TrimSpace(field.value) == "" {
			return Definition{}, "", fault.Validation("missing required field: %s", field.name)
		}
	}
	if _, err := cron.ParseStandard(def.Schedule); err != nil {
		return Definition{}, "", fault.Validation("invalid cron expression: %s", def.Schedule)
	}
	return def, body, nil
}

func splitFrontMatter(content string) (string, string, error) {
	trimmed := strings.TrimLeft(content, "\n\r")
	if !strings.HasPrefix(trimmed, frontMatterDelimiter+"\n") && trimmed != frontMatterDelimiter {
		return "", "", fault.Validation("flow file has no front matter")
	}
	rest := strings.TrimPrefix(trimmed, frontMatterDelimiter+"\n")
	idx := strings.Index(rest, "\n"+frontMatterDelimiter)
	if idx < 0 {
		return "", "", fault.Validation("unterminated front matter")
	}
	matter := rest[:idx]
	body := rest[idx+len("\n"+frontMatterDelimiter):]
	body = strings.TrimPrefix(body, "\n")
	return matter, body, nil
}

// NextRun computes the first run after the given time for a standard
// five-field cron schedule.
func NextRun(schedule string, after time.Time) (time.Time, error) {
	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fault.Validation("invalid cron expression: %s", schedule)
	}
	return spec.Next(after), nil
}
