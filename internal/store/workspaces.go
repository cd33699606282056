package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

func (s *Store) CreateWorkspace(ctx context.Context, ws *model.Workspace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name) VALUES (?, ?)`, ws.ID.String(), ws.Name)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

// TombstoneWorkspace soft-deletes a workspace together with its channels.
func (s *Store) TombstoneWorkspace(ctx context.Context, id uuid.UUID) error {
	now := nowMilli()
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE workspaces SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now, id.String()); err != nil {
			return fmt.Errorf("tombstone workspace: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE channels SET deleted_at = ? WHERE workspace_id = ? AND deleted_at IS NULL`, now, id.String()); err != nil {
			return fmt.Errorf("tombstone workspace channels: %w", err)
		}
		return nil
	})
}

func (s *Store) AddWorkspaceMember(ctx context.Context, m *model.WorkspaceMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		m.WorkspaceID.String(), m.UserID.String(), m.Role)
	if err != nil {
		return fmt.Errorf("add workspace member: %w", err)
	}
	return nil
}

func (s *Store) IsWorkspaceMember(ctx context.Context, workspaceID, userID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM workspace_members WHERE workspace_id = ? AND user_id = ?`,
		workspaceID.String(), userID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check workspace membership: %w", err)
	}
	return true, nil
}

// WorkspacesOf lists ids of live workspaces the user belongs to.
func (s *Store) WorkspacesOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wm.workspace_id
		FROM workspace_members wm
		JOIN workspaces w ON w.id = wm.workspace_id
		WHERE wm.user_id = ? AND w.deleted_at IS NULL`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query workspaces of user: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// WorkspaceMemberIDs lists all member user ids of a workspace.
func (s *Store) WorkspaceMemberIDs(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM workspace_members WHERE workspace_id = ?`, workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("query workspace members: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
