package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"Skein/internal/core/actions"
)

type postgresPendingActionRepo struct {
	db *sql.DB
}

// NewPendingActionRepository creates a PostgreSQL-backed offline queue store
func NewPendingActionRepository(db *sql.DB) actions.QueueStore {
	return &postgresPendingActionRepo{db: db}
}

// Save upserts the queued action for its post. A newer intent for the same
// post replaces the stored one.
func (r *postgresPendingActionRepo) Save(ctx context.Context, action actions.PendingAction) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to encode pending action: %w", err)
	}

	query := `
		INSERT INTO pending_actions (stable_id, platform, intent, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (stable_id) DO UPDATE SET
			platform = EXCLUDED.platform,
			intent = EXCLUDED.intent,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		action.Post.StableID,
		action.Post.Platform,
		action.Intent.String(),
		payload,
		action.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pending action: %w", err)
	}
	return nil
}

// Delete removes the queued action for a post. Deleting a missing row is not
// an error.
func (r *postgresPendingActionRepo) Delete(ctx context.Context, stableID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE stable_id = $1`, stableID)
	if err != nil {
		return fmt.Errorf("failed to delete pending action: %w", err)
	}
	return nil
}

// List returns every queued action, oldest first.
func (r *postgresPendingActionRepo) List(ctx context.Context) ([]actions.PendingAction, error) {
	query := `
		SELECT payload
		FROM pending_actions
		ORDER BY created_at ASC, stable_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []actions.PendingAction
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan pending action: %w", err)
		}

		var action actions.PendingAction
		if err := json.Unmarshal(payload, &action); err != nil {
			return nil, fmt.Errorf("failed to decode pending action: %w", err)
		}
		result = append(result, action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending actions: %w", err)
	}
	return result, nil
}
