package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/browseragent/taskqueue/internal/apperrors"
)

// RoutingOverride pins a tool (or tool prefix, trailing "*") to a specific
// provider/model pair, taking precedence over the router's learned default.
type RoutingOverride struct {
	ToolPattern string    `json:"toolPattern"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Reason      string    `json:"reason,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UpsertOverride inserts or replaces the override for toolPattern.
func (s *Store) UpsertOverride(ctx context.Context, o RoutingOverride) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_overrides (tool_pattern, provider, model, reason, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tool_pattern) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		o.ToolPattern, o.Provider, o.Model, o.Reason, now)
	if err != nil {
		return apperrors.Wrap("store.UpsertOverride", "store", o.ToolPattern, err)
	}
	return nil
}

// DeleteOverride removes a pinned override, if any.
func (s *Store) DeleteOverride(ctx context.Context, toolPattern string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM routing_overrides WHERE tool_pattern = ?`, toolPattern)
	if err != nil {
		return apperrors.Wrap("store.DeleteOverride", "store", toolPattern, err)
	}
	return nil
}

// ListOverrides returns every pinned override, exact patterns and prefixes
// alike; the router resolves precedence, not the store.
func (s *Store) ListOverrides(ctx context.Context) ([]RoutingOverride, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tool_pattern, provider, model, reason, updated_at FROM routing_overrides`)
	if err != nil {
		return nil, apperrors.Wrap("store.ListOverrides", "store", "", err)
	}
	defer rows.Close()

	var out []RoutingOverride
	for rows.Next() {
		var o RoutingOverride
		var reason sql.NullString
		var updatedAt string
		if err := rows.Scan(&o.ToolPattern, &o.Provider, &o.Model, &reason, &updatedAt); err != nil {
			return nil, apperrors.Wrap("store.ListOverrides", "store", "", err)
		}
		o.Reason = reason.String
		o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOverride fetches the override for an exact tool_pattern, or nil.
func (s *Store) GetOverride(ctx context.Context, toolPattern string) (*RoutingOverride, error) {
	row := s.db.QueryRowContext(ctx, `SELECT tool_pattern, provider, model, reason, updated_at
		FROM routing_overrides WHERE tool_pattern = ?`, toolPattern)
	var o RoutingOverride
	var reason sql.NullString
	var updatedAt string
	if err := row.Scan(&o.ToolPattern, &o.Provider, &o.Model, &reason, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.Wrap("store.GetOverride", "store", toolPattern, err)
	}
	o.Reason = reason.String
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &o, nil
}
