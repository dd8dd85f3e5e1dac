// Package auth hashes the passwords stored in users.hashed_password.
package auth

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// logger returns the global logger tagged with this package. It is resolved
// per call because the CLI replaces the global logger after package init.
func logger() *zap.Logger {
	return zap.L().With(zap.String("package", "auth"))
}

// ErrEmptyPassword is returned when asked to hash an empty password.
var ErrEmptyPassword = errors.New("auth: password is empty")

// HashPassword returns the bcrypt hash of password. A cost outside bcrypt's
// accepted range falls back to bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		logger().Warn("bcrypt cost out of range, using default", zap.Int("cost", cost), zap.Int("default", bcrypt.DefaultCost))
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("auth: failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
