// Package checkpoint persists engine state between processes: the session
// id, the archived message history, the model reference, and the
// cumulative cost. Loading a checkpoint into a fresh engine reconstructs
// History exactly; CurrentTurn always starts empty. The stored model
// reference is recorded only: resuming a session restores history and
// cost but does not switch the engine to that model.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sipeed/picocode/pkg/providers"
)

type Checkpoint struct {
	SessionID string              `json:"session_id"`
	Model     string              `json:"model"`
	Messages  []providers.Message `json:"messages"`
	TotalCost float64             `json:"total_cost"`
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	messages   TEXT NOT NULL,
	total_cost REAL NOT NULL,
	updated_at TEXT NOT NULL
);
`

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the checkpoint for its session id.
func (s *Store) Save(cp Checkpoint) error {
	if cp.SessionID == "" {
		return fmt.Errorf("checkpoint needs a session id")
	}
	encoded, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO checkpoints (session_id, model, messages, total_cost, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			model = excluded.model,
			messages = excluded.messages,
			total_cost = excluded.total_cost,
			updated_at = excluded.updated_at`,
		cp.SessionID, cp.Model, string(encoded), cp.TotalCost,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.SessionID, err)
	}
	return nil
}

// Load reads one checkpoint. A missing session returns sql.ErrNoRows.
func (s *Store) Load(sessionID string) (Checkpoint, error) {
	var cp Checkpoint
	var encoded string
	err := s.db.QueryRow(
		`SELECT session_id, model, messages, total_cost FROM checkpoints WHERE session_id = ?`,
		sessionID,
	).Scan(&cp.SessionID, &cp.Model, &encoded, &cp.TotalCost)
	if err != nil {
		return Checkpoint{}, err
	}
	if err := json.Unmarshal([]byte(encoded), &cp.Messages); err != nil {
		return Checkpoint{}, fmt.Errorf("decode messages for %s: %w", sessionID, err)
	}
	return cp, nil
}

// List returns known session ids, newest first.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
