package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the snapshot in the agents and pairings tables. Each
// Save replaces both tables in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context) (State, error) {
	state := State{Pairings: make(map[string]string)}

	rows, err := s.pool.Query(ctx, `SELECT id, name, last_seen, pairing_code FROM agents ORDER BY id`)
	if err != nil {
		return State{}, fmt.Errorf("query agents: %w", err)
	}
	for rows.Next() {
		var (
			rec      AgentRecord
			lastSeen *time.Time
			code     *string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &lastSeen, &code); err != nil {
			rows.Close()
			return State{}, fmt.Errorf("scan agent: %w", err)
		}
		if lastSeen != nil {
			rec.LastSeen = *lastSeen
		}
		if code != nil {
			rec.PairingCode = *code
		}
		state.Agents = append(state.Agents, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("read agents: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT viewer, agent_id FROM pairings`)
	if err != nil {
		return State{}, fmt.Errorf("query pairings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var viewer, agentID string
		if err := rows.Scan(&viewer, &agentID); err != nil {
			return State{}, fmt.Errorf("scan pairing: %w", err)
		}
		state.Pairings[viewer] = agentID
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("read pairings: %w", err)
	}

	if len(state.Agents) == 0 && len(state.Pairings) == 0 {
		return state, ErrNoSnapshot
	}
	return state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state State) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM pairings`); err != nil {
		return fmt.Errorf("clear pairings: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM agents`); err != nil {
		return fmt.Errorf("clear agents: %w", err)
	}

	agentRows := make([][]any, 0, len(state.Agents))
	for _, a := range state.Agents {
		var code *string
		if a.PairingCode != "" {
			c := a.PairingCode
			code = &c
		}
		var lastSeen *time.Time
		if !a.LastSeen.IsZero() {
			ts := a.LastSeen
			lastSeen = &ts
		}
		agentRows = append(agentRows, []any{a.ID, a.Name, lastSeen, code})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"agents"},
		[]string{"id", "name", "last_seen", "pairing_code"},
		pgx.CopyFromRows(agentRows),
	); err != nil {
		return fmt.Errorf("copy agents: %w", err)
	}

	pairingRows := make([][]any, 0, len(state.Pairings))
	for viewer, agentID := range state.Pairings {
		pairingRows = append(pairingRows, []any{viewer, agentID})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"pairings"},
		[]string{"viewer", "agent_id"},
		pgx.CopyFromRows(pairingRows),
	); err != nil {
		return fmt.Errorf("copy pairings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
