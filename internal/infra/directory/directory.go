package directory

import (
	"context"
	"errors"
)

var (
	ErrInvalidToken = errors.New("directory: invalid token")
	ErrUserNotFound = errors.New("directory: user not found")
)

// User is a platform identity as the directory service exposes it.
type User struct {
	ID      string
	Name    string
	Company string
}

// Service is the identity/directory collaborator: credentials, accepted
// connections, and block status all live outside this repository.
type Service interface {
	ResolveToken(ctx context.Context, token string) (User, error)
	Friends(ctx context.Context, userID string) ([]string, error)
	IsBlocked(ctx context.Context, userA, userB string) (bool, error)
}
