package store

import (
	"database/sql"
	"errors"
	"time"

	"agentmux/internal/fault"
)

// Flow is a scheduled task definition registered from a markdown file.
type Flow struct {
	Name         string     `json:"name"`
	FilePath     string     `json:"file_path"`
	Schedule     string     `json:"schedule"`
	AgentProfile string     `json:"agent_profile"`
	Provider     string     `json:"provider"`
	Script       string     `json:"script,omitempty"`
	Enabled      bool       `json:"enabled"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// SaveFlow inserts or replaces a flow definition keyed by name.
func (s *Store) SaveFlow(f Flow) error {
	_, err := s.db.Exec(
		`INSERT INTO flows (name, file_path, schedule, agent_profile, provider, script, enabled, last_run, next_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			file_path = excluded.file_path,
			schedule = excluded.schedule,
			agent_profile = excluded.agent_profile,
			provider = excluded.provider,
			script = excluded.script,
			enabled = excluded.enabled,
			last_run = excluded.last_run,
			next_run = excluded.next_run`,
		f.Name, f.FilePath, f.Schedule, f.AgentProfile, f.Provider, f.Script,
		f.Enabled, formatNullableTime(f.LastRun), formatNullableTime(f.NextRun),
	)
	return err
}

const flowColumns = `name, file_path, schedule, agent_profile, provider, script, enabled, last_run, next_run`

func scanFlow(row interface{ Scan(...any) error }) (Flow, error) {
	var f Flow
	var lastRun, nextRun sql.NullString
	err := row.Scan(&f.Name, &f.FilePath, &f.Schedule, &f.AgentProfile, &f.Provider, &f.Script, &f.Enabled, &lastRun, &nextRun)
	if err != nil {
		return Flow{}, err
	}
	f.LastRun = parseNullableTime(lastRun)
	f.NextRun = parseNullableTime(nextRun)
	return f, nil
}

// GetFlow returns the flow with the given name or a not-found error.
func (s *Store) GetFlow(name string) (Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM flows WHERE name = ?`, name)
	f, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Flow{}, fault.NotFound("flow", name)
	}
	return f, err
}

// ListFlows returns every registered flow ordered by name.
func (s *Store) ListFlows() ([]Flow, error) {
	rows, err := s.db.Query(`SELECT ` + flowColumns + ` FROM flows ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// DeleteFlow removes a flow and reports whether it existed.
func (s *Store) DeleteFlow(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM flows WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetFlowEnabled flips the enabled flag only. The stored run times are
// untouched, so a disabled flow keeps its next_run. It reports whether
// the flow existed.
func (s *Store) SetFlowEnabled(name string, enabled bool) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE flows SET enabled = ? WHERE name = ?`,
		enabled, name,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// EnableFlowAt enables a flow and rewrites its next run time in one
// statement. It reports whether the flow existed.
func (s *Store) EnableFlowAt(name string, nextRun time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE flows SET enabled = ?, next_run = ? WHERE name = ?`,
		true, formatTime(nextRun), name,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateFlowRuns records the outcome of a scheduler pass. A nil lastRun
// leaves the previous value in place, which is how a gate-script skip
// advances next_run without claiming an execution.
func (s *Store) UpdateFlowRuns(name string, lastRun, nextRun *time.Time) error {
	if lastRun != nil {
		_, err := s.db.Exec(
			`UPDATE flows SET last_run = ?, next_run = ? WHERE name = ?`,
			formatTime(*lastRun), formatNullableTime(nextRun), name,
		)
		return err
	}
	_, err := s.db.Exec(`UPDATE flows SET next_run = ? WHERE name = ?`, formatNullableTime(nextRun), name)
	return err
}

// FlowsDue returns the enabled flows whose next run time has arrived.
func (s *Store) FlowsDue(now time.Time) ([]Flow, error) {
	rows, err := s.db.Query(
		`SELECT `+flowColumns+` FROM flows
		 WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?
		 ORDER BY next_run`,
		formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}
