package store

import (
	"database/sql"
	"errors"
	"time"

	"agentmux/internal/fault"
)

// Terminal is one registered tmux window running an agent CLI.
type Terminal struct {
	ID           string    `json:"terminal_id"`
	SessionName  string    `json:"session_name"`
	WindowName   string    `json:"window_name"`
	Provider     string    `json:"provider"`
	AgentProfile string    `json:"agent_profile"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

// CreateTerminal inserts a terminal row.
func (s *Store) CreateTerminal(t Terminal) error {
	_, err := s.db.Exec(
		`INSERT INTO terminals (id, session_name, window_name, provider, agent_profile, created_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionName, t.WindowName, t.Provider, t.AgentProfile,
		formatTime(t.CreatedAt), formatTime(t.LastActive),
	)
	return err
}

const terminalColumns = `id, session_name, window_name, provider, agent_profile, created_at, last_active`

func scanTerminal(row interface{ Scan(...any) error }) (Terminal, error) {
	var t Terminal
	var createdAt, lastActive string
	err := row.Scan(&t.ID, &t.SessionName, &t.WindowName, &t.Provider, &t.AgentProfile, &createdAt, &lastActive)
	if err != nil {
		return Terminal{}, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.LastActive = parseTime(lastActive)
	return t, nil
}

// GetTerminal returns the terminal with the given id or a not-found error.
func (s *Store) GetTerminal(id string) (Terminal, error) {
	row := s.db.QueryRow(`SELECT `+terminalColumns+` FROM terminals WHERE id = ?`, id)
	t, err := scanTerminal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Terminal{}, fault.NotFound("terminal", id)
	}
	return t, err
}

// ListTerminals returns all terminals, newest first.
func (s *Store) ListTerminals() ([]Terminal, error) {
	return s.queryTerminals(`SELECT ` + terminalColumns + ` FROM terminals ORDER BY created_at DESC`)
}

// ListTerminalsBySession returns the terminals registered under one
// tmux session.
func (s *Store) ListTerminalsBySession(sessionName string) ([]Terminal, error) {
	return s.queryTerminals(
		`SELECT `+terminalColumns+` FROM terminals WHERE session_name = ? ORDER BY created_at`,
		sessionName,
	)
}

func (s *Store) queryTerminals(query string, args ...any) ([]Terminal, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terminals []Terminal
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, err
		}
		terminals = append(terminals, t)
	}
	return terminals, rows.Err()
}

// TouchTerminal advances last_active. It reports whether the terminal
// existed.
func (s *Store) TouchTerminal(id string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE terminals SET last_active = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteTerminal removes one terminal row and reports whether a row was
// deleted. A second delete of the same id returns false.
func (s *Store) DeleteTerminal(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM terminals WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteTerminalsBySession removes every terminal registered under a
// session and returns how many rows were deleted.
func (s *Store) DeleteTerminalsBySession(sessionName string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM terminals WHERE session_name = ?`, sessionName)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteTerminalsBefore removes terminals whose last activity predates
// the cutoff. Used by the retention sweeper.
func (s *Store) DeleteTerminalsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM terminals WHERE last_active < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
