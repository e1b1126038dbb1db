package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"bizlink/internal/infra/security"
)

// Memory is an in-memory directory used for local development and tests.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]User
	tokens  map[string]string
	friends map[string][]string
	blocked map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]User),
		tokens:  make(map[string]string),
		friends: make(map[string][]string),
		blocked: make(map[string]bool),
	}
}

// AddUser registers a user and returns their session token. An empty token
// mints a random one.
func (m *Memory) AddUser(user User, token string) (string, error) {
	if token == "" {
		minted, err := security.RandomTokenGenerator{}.NewToken()
		if err != nil {
			return "", err
		}
		token = minted
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	m.tokens[token] = user.ID
	return token, nil
}

// SetFriends replaces a user's accepted connections.
func (m *Memory) SetFriends(userID string, friends ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends[userID] = append([]string(nil), friends...)
}

// Block marks an unordered pair as blocked.
func (m *Memory) Block(userA, userB string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[pairKey(userA, userB)] = true
}

func (m *Memory) ResolveToken(ctx context.Context, token string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.tokens[token]
	if !ok {
		return User{}, ErrInvalidToken
	}
	user, ok := m.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *Memory) Friends(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	return append([]string(nil), m.friends[userID]...), nil
}

func (m *Memory) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocked[pairKey(userA, userB)], nil
}

func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}
