package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"bizlink/internal/infra/directory"
)

const principalContextKey = "bizlink.principal"

type principal struct {
	ID      string
	Name    string
	Company string
	Token   string
}

// AuthMiddleware resolves the bearer token against the directory service and
// attaches the principal. Unauthenticated requests pass through; handlers that
// need a user call requireUser.
type AuthMiddleware struct {
	Directory directory.Service
	Logger    *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Directory == nil {
		c.Next()
		return
	}
	user, err := m.Directory.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, directory.ErrInvalidToken) && m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{
		ID:      user.ID,
		Name:    user.Name,
		Company: user.Company,
		Token:   token,
	})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
