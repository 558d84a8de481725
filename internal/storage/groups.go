package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Role is a user's standing within a group.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleModerator, RoleMember:
		return true
	}
	return false
}

// Group represents a row in the groups table.
type Group struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt time.Time
}

// Member is a user together with their role in a group.
type Member struct {
	UserID   int64
	Username string
	Role     Role
}

// CreateGroup inserts a group and its owner membership in one transaction.
func (s *Store) CreateGroup(ctx context.Context, ownerID int64, name string) (id int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	result, err := tx.ExecContext(ctx, `INSERT INTO chat_groups(name, owner_id) VALUES(?, ?)`, name, ownerID)
	if err != nil {
		return 0, err
	}
	id, err = result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO group_members(group_id, user_id, role) VALUES(?, ?, ?)`, id, ownerID, RoleOwner); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// GetGroup fetches a group by id. A missing group is (nil, nil).
func (s *Store) GetGroup(ctx context.Context, id int64) (*Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, owner_id, created_at FROM chat_groups WHERE id = ?`, id)
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// AddGroupMember inserts or updates a membership row.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID int64, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members(group_id, user_id, role) VALUES(?, ?, ?)
		ON CONFLICT(group_id, user_id) DO UPDATE SET role = excluded.role
	`, groupID, userID, role)
	if err != nil && isConstraintError(err) {
		return ErrNotFound
	}
	return err
}

// RemoveGroupMember deletes a membership row. Removing a non-member is not an error.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	return err
}

// MemberRole returns the role of userID in groupID, or "" when not a member.
func (s *Store) MemberRole(ctx context.Context, groupID, userID int64) (Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT role FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	var role Role
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return role, nil
}

// GroupIDsForUser lists every group the user owns, moderates or belongs to.
func (s *Store) GroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT group_id FROM group_members WHERE user_id = ? ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups for user %d: %w", userID, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListGroupMembers returns members ordered by username.
func (s *Store) ListGroupMembers(ctx context.Context, groupID int64) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, gm.role
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = ?
		ORDER BY u.username ASC
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.Role); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
