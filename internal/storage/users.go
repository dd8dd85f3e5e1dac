package storage

import (
	"context"
	"fmt"

	"github.com/blockadesystems/certregistry/internal/model"
	"go.uber.org/zap"
)

const userColumns = `id, username, hashed_password, is_active, role`

// CreateUser inserts user and sets its ID. An empty Role is stored as
// model.DefaultRole.
func (s queries) CreateUser(ctx context.Context, user *model.User) error {
	if user == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidArgument)
	}
	if user.Role == "" {
		user.Role = model.DefaultRole
	}
	query := `INSERT INTO users (username, hashed_password, is_active, role) VALUES (?, ?, ?, ?) RETURNING id`
	id, err := insertReturningID(ctx, s.q, query, user.Username, user.HashedPassword, user.IsActive, user.Role)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to create user '%s'", user.Username))
	}
	user.ID = id
	logger.Debug("User created", zap.Int64("id", id), zap.String("username", user.Username))
	return nil
}

func (s queries) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	if err := s.q.GetContext(ctx, &user, s.q.Rebind(query), id); err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return &user, nil
}

func (s queries) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	if err := s.q.GetContext(ctx, &user, s.q.Rebind(query), username); err != nil {
		return nil, notFound(err, fmt.Sprintf("user '%s'", username))
	}
	return &user, nil
}

// UpdateUser overwrites every column of the user with user.ID.
func (s queries) UpdateUser(ctx context.Context, user *model.User) error {
	if user == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidArgument)
	}
	query := `UPDATE users SET username = ?, hashed_password = ?, is_active = ?, role = ? WHERE id = ?`
	if err := execOne(ctx, s.q, fmt.Sprintf("user %d", user.ID), query,
		user.Username, user.HashedPassword, user.IsActive, user.Role, user.ID); err != nil {
		return err
	}
	logger.Debug("User updated", zap.Int64("id", user.ID))
	return nil
}

func (s queries) ListUsers(ctx context.Context) ([]*model.User, error) {
	users := make([]*model.User, 0)
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`
	if err := s.q.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("storage: failed to list users: %w", err)
	}
	return users, nil
}
