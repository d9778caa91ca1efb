package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/pliu/murmur/internal/models"
)

const userColumns = "id, username, email, password, online, last_active, created_at"

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	ts := now()
	query := s.db.Rebind("INSERT INTO users (username, email, password, online, last_active, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id")
	if err := s.db.QueryRowxContext(ctx, query, user.Username, user.Email, user.Password, false, ts, ts).Scan(&user.ID); err != nil {
		return err
	}
	user.Online = false
	user.LastActive = ts
	user.CreatedAt = ts
	return nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	query := s.db.Rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := s.db.Rebind("SELECT " + userColumns + " FROM users WHERE username = ?")
	if err := s.db.GetContext(ctx, &user, query, username); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := s.db.SelectContext(ctx, &users, "SELECT "+userColumns+" FROM users ORDER BY username ASC"); err != nil {
		return nil, err
	}
	return users, nil
}

const searchLimit = 20

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (s *SQLStore) SearchUsers(ctx context.Context, query string, excludeID int64) ([]models.User, error) {
	users := []models.User{}
	q := s.db.Rebind("SELECT " + userColumns + ` FROM users
		WHERE username LIKE ? ESCAPE '\' AND id != ?
		ORDER BY username ASC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &users, q, "%"+likeEscaper.Replace(query)+"%", excludeID, searchLimit); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *SQLStore) SetOnline(ctx context.Context, id int64, online bool, lastActive time.Time) error {
	query := s.db.Rebind("UPDATE users SET online = ?, last_active = ? WHERE id = ?")
	_, err := s.db.ExecContext(ctx, query, online, lastActive.UTC(), id)
	return err
}

// ResetOnline clears every persisted online flag. Nobody is connected right
// after a restart.
func (s *SQLStore) ResetOnline(ctx context.Context) error {
	query := s.db.Rebind("UPDATE users SET online = ? WHERE online = ?")
	_, err := s.db.ExecContext(ctx, query, false, true)
	return err
}
