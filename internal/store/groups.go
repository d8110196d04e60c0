// ABOUTME: Group and group membership persistence
// ABOUTME: Member lists are always read fresh; nothing here is cached

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateGroup inserts a group and its members in one transaction.
// The creator is added as admin if not already listed.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = group.CreatedAt

	if !group.HasMember(group.CreatorID) {
		group.Members = append([]GroupMember{{UserID: group.CreatorID, Role: GroupRoleAdmin}}, group.Members...)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, avatar, creator_id, is_private, is_official, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID,
		group.Name,
		group.Description,
		group.Avatar,
		group.CreatorID,
		boolToInt(group.IsPrivate),
		boolToInt(group.IsOfficial),
		formatTime(group.CreatedAt),
		formatTime(group.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting group: %w", err)
	}

	for i := range group.Members {
		m := &group.Members[i]
		if m.Role == "" {
			m.Role = GroupRoleMember
		}
		if m.JoinedAt.IsZero() {
			m.JoinedAt = group.CreatedAt
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
			group.ID, m.UserID, string(m.Role), formatTime(m.JoinedAt))
		if err != nil {
			return fmt.Errorf("inserting group member %s: %w", m.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group: %w", err)
	}

	s.logger.Debug("created group", "id", group.ID, "name", group.Name, "members", len(group.Members))
	return nil
}

// GetGroup retrieves a group with its members.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	var g Group
	var private, official int
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, avatar, creator_id, is_private, is_official, created_at, updated_at
		FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.Avatar, &g.CreatorID, &private, &official, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}
	g.IsPrivate = private != 0
	g.IsOfficial = official != 0

	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if g.Members, err = s.listMembers(ctx, id); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQLiteStore) listMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, role, joined_at FROM group_members WHERE group_id = ? ORDER BY joined_at ASC, user_id ASC`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		var role, joinedAt string
		if err := rows.Scan(&m.UserID, &role, &joinedAt); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		m.Role = GroupRole(role)
		if m.JoinedAt, err = parseTime(joinedAt); err != nil {
			return nil, fmt.Errorf("parsing joined_at: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetGroupMembers returns the member user IDs of a group.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = ?`, groupID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}

	members, err := s.listMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

// AddGroupMember adds a user to a group.
// Returns ErrNotFound for an unknown group and ErrAlreadyMember for duplicates.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, groupID string, member GroupMember) error {
	if _, err := s.GetGroupMembers(ctx, groupID); err != nil {
		return err
	}
	if member.Role == "" {
		member.Role = GroupRoleMember
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		groupID, member.UserID, string(member.Role), formatTime(member.JoinedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("inserting group member: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE groups SET updated_at = ? WHERE id = ?`, formatTime(member.JoinedAt), groupID); err != nil {
		return fmt.Errorf("touching group: %w", err)
	}
	return nil
}

// DeleteGroup removes a group, its members and its messages.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("deleting group messages: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListGroupsForUser returns the groups userID belongs to, most recently updated first
func (s *SQLiteStore) ListGroupsForUser(ctx context.Context, userID string) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying groups for user: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning group id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}

	groups := make([]*Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}
