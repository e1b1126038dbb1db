package ginserver

import (
	"context"

	"bizlink/internal/infra/directory"
	"bizlink/internal/realtime"
)

// DirectoryAuthenticator validates websocket connect tokens against the
// directory service.
type DirectoryAuthenticator struct {
	Directory directory.Service
}

func (a DirectoryAuthenticator) Authenticate(ctx context.Context, token string) (realtime.Identity, error) {
	if token == "" {
		return realtime.Identity{}, directory.ErrInvalidToken
	}
	user, err := a.Directory.ResolveToken(ctx, token)
	if err != nil {
		return realtime.Identity{}, err
	}
	return realtime.Identity{UserID: user.ID, Name: user.Name}, nil
}
