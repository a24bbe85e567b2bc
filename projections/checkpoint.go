package projections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/grantbook"
	"github.com/ripkitten-co/grantbook/internal/pg"
	"github.com/ripkitten-co/grantbook/schema"
)

const (
	StatusRunning    = "running"
	StatusRebuilding = "rebuilding"
	StatusStopped    = "stopped"
	StatusDeadLetter = "dead_letter"
)

// Checkpoint is the persisted progress of one subscriber.
type Checkpoint struct {
	Name      string    `json:"name"`
	Position  int64     `json:"position"`
	Status    string    `json:"status"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CheckpointStore tracks the last processed global_position for each
// subscriber, enabling resume-from-where-you-left-off semantics.
type CheckpointStore struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

func NewCheckpointStore(b grantbook.Backend) *CheckpointStore {
	return &CheckpointStore{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

func (cs *CheckpointStore) ensure(ctx context.Context, name string) error {
	if err := cs.schema.EnsureProjectionCheckpoints(ctx, cs.exec); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}
	return nil
}

// Load returns the last processed position and status for the named
// subscriber. If no checkpoint exists, it returns (0, "running", nil).
func (cs *CheckpointStore) Load(ctx context.Context, name string) (int64, string, error) {
	if err := cs.ensure(ctx, name); err != nil {
		return 0, "", err
	}

	var position int64
	var status string
	err := cs.exec.QueryRow(ctx,
		`SELECT last_position, status FROM grantbook_projection_checkpoints WHERE projection_name = $1`,
		name,
	).Scan(&position, &status)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, StatusRunning, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("checkpoint %s: load: %w", name, err)
	}
	return position, status, nil
}

// List returns every stored checkpoint ordered by name.
func (cs *CheckpointStore) List(ctx context.Context) ([]Checkpoint, error) {
	if err := cs.ensure(ctx, "*"); err != nil {
		return nil, err
	}

	rows, err := cs.exec.Query(ctx,
		`SELECT projection_name, last_position, status, COALESCE(last_error, ''), updated_at
		 FROM grantbook_projection_checkpoints ORDER BY projection_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.Name, &c.Position, &c.Status, &c.LastError, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("checkpoint: list: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Save upserts the checkpoint position and clears any recorded error.
func (cs *CheckpointStore) Save(ctx context.Context, name string, position int64) error {
	if err := cs.ensure(ctx, name); err != nil {
		return err
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO grantbook_projection_checkpoints (projection_name, last_position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (projection_name) DO UPDATE SET last_position = $2, last_error = NULL, updated_at = now()`,
		name, position,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: save: %w", name, err)
	}
	return nil
}

func (cs *CheckpointStore) SetStatus(ctx context.Context, name string, status string) error {
	return cs.SetError(ctx, name, status, "")
}

// SetError records status together with the error that caused it. An empty
// message clears the stored error.
func (cs *CheckpointStore) SetError(ctx context.Context, name, status, message string) error {
	if err := cs.ensure(ctx, name); err != nil {
		return err
	}

	var lastErr *string
	if message != "" {
		lastErr = &message
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO grantbook_projection_checkpoints (projection_name, last_position, status, last_error, updated_at)
		 VALUES ($1, 0, $2, $3, now())
		 ON CONFLICT (projection_name) DO UPDATE SET status = $2, last_error = $3, updated_at = now()`,
		name, status, lastErr,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: set status: %w", name, err)
	}
	return nil
}

// Reset sets the position back to 0 with status 'rebuilding'.
func (cs *CheckpointStore) Reset(ctx context.Context, name string) error {
	if err := cs.ensure(ctx, name); err != nil {
		return err
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO grantbook_projection_checkpoints (projection_name, last_position, status, updated_at)
		 VALUES ($1, 0, 'rebuilding', now())
		 ON CONFLICT (projection_name) DO UPDATE SET last_position = 0, status = 'rebuilding', last_error = NULL, updated_at = now()`,
		name,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: reset: %w", name, err)
	}
	return nil
}
