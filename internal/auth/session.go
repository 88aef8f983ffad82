package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Manager provides in-memory account/session management for single-binary
// deployment. It can be swapped to persistent storage without changing
// gateway contracts.
type Manager struct {
	mu sync.Mutex

	sessionTTL    time.Duration
	sessions      map[string]sessionRecord // token -> player
	accountsByID  map[string]accountRecord // player -> profile
	accountsByKey map[string]string        // normalized username -> player
}

type sessionRecord struct {
	PlayerID  string
	ExpiresAt time.Time
}

type accountRecord struct {
	PlayerID      string
	Username      string
	PasswordHash  []byte
	LastLoginTime time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessionTTL:    defaultSessionTTL,
		sessions:      make(map[string]sessionRecord),
		accountsByID:  make(map[string]accountRecord),
		accountsByKey: make(map[string]string),
	}
}

func (m *Manager) issueSessionLocked(playerID string, now time.Time) string {
	token := mustToken()
	m.sessions[token] = sessionRecord{
		PlayerID:  playerID,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	return token
}

// Register creates a new account and returns an authenticated session token.
func (m *Manager) Register(username, password string) (playerID, sessionToken string, err error) {
	if err = validateUsername(username); err != nil {
		return "", "", err
	}
	if err = validatePassword(password); err != nil {
		return "", "", err
	}

	normalized := normalizeUsername(username)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accountsByKey[normalized]; exists {
		return "", "", ErrUsernameTaken
	}

	now := time.Now()
	playerID = uuid.NewString()
	m.accountsByID[playerID] = accountRecord{
		PlayerID:      playerID,
		Username:      strings.TrimSpace(username),
		PasswordHash:  hash,
		LastLoginTime: now,
	}
	m.accountsByKey[normalized] = playerID
	return playerID, m.issueSessionLocked(playerID, now), nil
}

// Login verifies credentials and issues a fresh session token.
func (m *Manager) Login(username, password string) (playerID, sessionToken string, err error) {
	normalized := normalizeUsername(username)

	m.mu.Lock()
	defer m.mu.Unlock()

	id, exists := m.accountsByKey[normalized]
	if !exists {
		return "", "", ErrInvalidCredentials
	}
	acct := m.accountsByID[id]
	if bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) != nil {
		return "", "", ErrInvalidCredentials
	}

	now := time.Now()
	acct.LastLoginTime = now
	m.accountsByID[id] = acct
	return id, m.issueSessionLocked(id, now), nil
}

// Authenticate logs in, registering the username on first use.
func (m *Manager) Authenticate(username, password string) (playerID, sessionToken string, err error) {
	playerID, sessionToken, err = m.Login(username, password)
	if err == ErrInvalidCredentials {
		m.mu.Lock()
		_, known := m.accountsByKey[normalizeUsername(username)]
		m.mu.Unlock()
		if !known {
			return m.Register(username, password)
		}
	}
	return playerID, sessionToken, err
}

// ResolveSession validates a token and slides its expiry.
func (m *Manager) ResolveSession(token string) (playerID, username string, ok bool) {
	if token == "" {
		return "", "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec, exists := m.sessions[token]
	if !exists {
		return "", "", false
	}
	if !now.Before(rec.ExpiresAt) {
		delete(m.sessions, token)
		return "", "", false
	}
	rec.ExpiresAt = now.Add(m.sessionTTL)
	m.sessions[token] = rec

	acct := m.accountsByID[rec.PlayerID]
	return rec.PlayerID, acct.Username, true
}

func (m *Manager) Logout(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

func (m *Manager) Close() error { return nil }
