package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"agentmux/internal/event"
	"agentmux/internal/fault"
	"agentmux/internal/logging"
	"agentmux/internal/store"
	"agentmux/internal/terminal"
)

// scriptTimeout bounds a gate script run.
const scriptTimeout = 60 * time.Second

// Service registers flows and executes them on demand or on schedule.
type Service struct {
	store   *store.Store
	manager *terminal.Manager
	logger  *logging.Logger
	bus     *event.Bus
	now     func() time.Time
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Store   *store.Store
	Manager *terminal.Manager
	Logger  *logging.Logger
	Bus     *event.Bus
}

func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:   opts.Store,
		manager: opts.Manager,
		logger:  logger,
		bus:     opts.Bus,
		now:     time.Now,
	}
}

// Add parses a flow file and registers it, enabled, with its first run
// computed from now.
func (s *Service) Add(path string) (store.Flow, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return store.Flow{}, err
	}
	def, _, err := ParseFile(absPath)
	if err != nil {
		return store.Flow{}, err
	}
	next, err := NextRun(def.Schedule, s.now())
	if err != nil {
		return store.Flow{}, err
	}
	if def.Script != "" {
		if _, err := resolveScript(absPath, def.Script); err != nil {
			return store.Flow{}, err
		}
	}

	f := store.Flow{
		Name:         def.Name,
		FilePath:     absPath,
		Schedule:     def.Schedule,
		AgentProfile: def.AgentProfile,
		Provider:     def.Provider,
		Script:       def.Script,
		Enabled:      true,
		NextRun:      &next,
	}
	if err := s.store.SaveFlow(f); err != nil {
		return store.Flow{}, err
	}
	s.logger.Info("flow registered", map[string]string{
		"flow":     f.Name,
		"schedule": f.Schedule,
	})
	return f, nil
}

// List returns every registered flow.
func (s *Service) List() ([]store.Flow, error) {
	return s.store.ListFlows()
}

// Get returns one flow by name.
func (s *Service) Get(name string) (store.Flow, error) {
	return s.store.GetFlow(name)
}

// Remove unregisters a flow. The flow file itself is left alone.
func (s *Service) Remove(name string) error {
	deleted, err := s.store.DeleteFlow(name)
	if err != nil {
		return err
	}
	if !deleted {
		return fault.NotFound("flow", name)
	}
	s.logger.Info("flow removed", map[string]string{"flow": name})
	return nil
}

// Enable turns a flow back on. The next run is recomputed from now so a
// long-disabled flow does not fire immediately for every missed slot.
func (s *Service) Enable(name string) error {
	f, err := s.store.GetFlow(name)
	if err != nil {
		return err
	}
	next, err := NextRun(f.Schedule, s.now())
	if err != nil {
		return err
	}
	updated, err := s.store.EnableFlowAt(name, next)
	if err != nil {
		return err
	}
	if !updated {
		return fault.NotFound("flow", name)
	}
	return nil
}

// Disable turns a flow off. Only the enabled flag changes; the stored
// next run is retained, so the scheduler skips the flow without losing
// its place in the schedule.
func (s *Service) Disable(name string) error {
	updated, err := s.store.SetFlowEnabled(name, false)
	if err != nil {
		return err
	}
	if !updated {
		return fault.NotFound("flow", name)
	}
	return nil
}

// Due returns the enabled flows whose next run time has arrived.
func (s *Service) Due() ([]store.Flow, error) {
	return s.store.FlowsDue(s.now())
}

// gateResult is the JSON contract a gate script prints on stdout.
type gateResult struct {
	Execute bool                   `json:"execute"`
	Output  map[string]interface{} `json:"output"`
}

// Execute runs one flow now: the gate script decides whether to
// proceed, the body template is rendered with the script's output, and
// the prompt goes to a fresh terminal in a new session. It reports
// whether the flow actually executed. A gate skip still advances the
// next run; a gate failure leaves it untouched so the scheduler
// retries.
func (s *Service) Execute(ctx context.Context, name string) (bool, error) {
	f, err := s.store.GetFlow(name)
	if err != nil {
		return false, err
	}
	_, body, err := ParseFile(f.FilePath)
	if err != nil {
		return false, err
	}

	output := map[string]string{}
	if f.Script != "" {
		gate, err := s.runGateScript(ctx, f)
		if err != nil {
			return false, err
		}
		for key, value := range gate.Output {
			output[key] = fmt.Sprint(value)
		}
		if !gate.Execute {
			s.logger.Info("flow skipped by gate script", map[string]string{"flow": name})
			s.publish(event.TypeFlowSkipped, map[string]string{"flow": name})
			if err := s.advance(f, nil); err != nil {
				return false, err
			}
			return false, nil
		}
	}

	prompt := RenderTemplate(body, output)
	term, err := s.manager.CreateTerminal(terminal.CreateRequest{
		Provider:     f.Provider,
		AgentProfile: f.AgentProfile,
	})
	if err != nil {
		return false, err
	}
	if err := s.manager.SendInput(term.ID, prompt); err != nil {
		return false, err
	}

	ranAt := s.now()
	if err := s.advance(f, &ranAt); err != nil {
		return false, err
	}
	s.logger.Info("flow executed", map[string]string{
		"flow":        name,
		"terminal_id": term.ID,
	})
	s.publish(event.TypeFlowExecuted, map[string]string{
		"flow":        name,
		"terminal_id": term.ID,
	})
	return true, nil
}

// runGateScript executes the flow's gate script and parses its verdict.
// Relative script paths resolve against the flow file's directory.
func (s *Service) runGateScript(ctx context.Context, f store.Flow) (gateResult, error) {
	scriptPath, err := resolveScript(f.FilePath, f.Script)
	if err != nil {
		return gateResult{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, scriptPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return gateResult{}, &fault.ScriptError{Stderr: stderr.String()}
	}

	var result gateResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return gateResult{}, fault.Validation("invalid script output: %v", err)
	}
	return result, nil
}

// resolveScript locates a gate script relative to its flow file and
// verifies it exists. The script is re-resolved on every run, so a file
// deleted after registration still fails cleanly.
func resolveScript(flowPath, script string) (string, error) {
	if !filepath.IsAbs(script) {
		script = filepath.Join(filepath.Dir(flowPath), script)
	}
	if _, err := os.Stat(script); err != nil {
		return "", fault.Validation("script not found: %s", script)
	}
	return script, nil
}

// advance records a run. A nil ranAt advances only the next run time,
// leaving last_run at its previous value.
func (s *Service) advance(f store.Flow, ranAt *time.Time) error {
	next, err := NextRun(f.Schedule, s.now())
	if err != nil {
		return err
	}
	return s.store.UpdateFlowRuns(f.Name, ranAt, &next)
}

func (s *Service) publish(eventType event.Type, fields map[string]string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.New(eventType, fields))
}
