package sqlstore

import (
	"context"

	"github.com/pliu/murmur/internal/models"
)

func (s *SQLStore) CreateGroup(ctx context.Context, name string, ownerID int64) (int64, error) {
	var id int64
	query := s.db.Rebind("INSERT INTO chat_groups (name, owner_id, created_at) VALUES (?, ?, ?) RETURNING id")
	if err := s.db.QueryRowxContext(ctx, query, name, ownerID, now()).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLStore) CreateGroupWithMembers(ctx context.Context, name string, ownerID int64, memberIDs []int64) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	insertGroup := tx.Rebind("INSERT INTO chat_groups (name, owner_id, created_at) VALUES (?, ?, ?) RETURNING id")
	if err := tx.QueryRowxContext(ctx, insertGroup, name, ownerID, now()).Scan(&id); err != nil {
		return 0, err
	}

	insertMember := tx.Rebind("INSERT INTO group_members (group_id, user_id) VALUES (?, ?)")
	seen := map[int64]bool{}
	for _, userID := range append([]int64{ownerID}, memberIDs...) {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if _, err := tx.ExecContext(ctx, insertMember, id, userID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLStore) AddMember(ctx context.Context, groupID, userID int64) error {
	query := s.db.Rebind("INSERT INTO group_members (group_id, user_id) VALUES (?, ?)")
	_, err := s.db.ExecContext(ctx, query, groupID, userID)
	return err
}

func (s *SQLStore) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var exists bool
	query := s.db.Rebind("SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)")
	err := s.db.QueryRowxContext(ctx, query, groupID, userID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) GetUserGroups(ctx context.Context, userID int64) ([]models.Group, error) {
	query := s.db.Rebind(`
		SELECT g.id, g.name, g.owner_id, g.created_at
		FROM chat_groups g
		JOIN group_members m ON g.id = m.group_id
		WHERE m.user_id = ?
		ORDER BY g.id ASC
	`)
	groups := []models.Group{}
	if err := s.db.SelectContext(ctx, &groups, query, userID); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *SQLStore) GetGroupMembers(ctx context.Context, groupID int64) ([]models.User, error) {
	query := s.db.Rebind(`
		SELECT u.id, u.username, u.email, u.password, u.online, u.last_active, u.created_at
		FROM users u
		JOIN group_members m ON u.id = m.user_id
		WHERE m.group_id = ?
		ORDER BY u.id ASC
	`)
	users := []models.User{}
	if err := s.db.SelectContext(ctx, &users, query, groupID); err != nil {
		return nil, err
	}
	return users, nil
}
