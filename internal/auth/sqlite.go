package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const defaultAuthDBName = "hokm_auth.db"

// SQLiteManager persists accounts and sessions in a local single-file
// database.
type SQLiteManager struct {
	db         *sql.DB
	sessionTTL time.Duration
}

func NewSQLiteManager(dbPath string, sessionTTL time.Duration) (*SQLiteManager, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureAuthSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteManager{db: db, sessionTTL: sessionTTL}, nil
}

func ensureAuthSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
    player_id        TEXT PRIMARY KEY,
    username         TEXT NOT NULL,
    username_key     TEXT NOT NULL UNIQUE,
    password_hash    BLOB NOT NULL,
    created_at_ms    INTEGER NOT NULL,
    last_login_at_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
    token         TEXT PRIMARY KEY,
    player_id     TEXT NOT NULL REFERENCES accounts(player_id),
    expires_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_player ON sessions (player_id);`)
	return err
}

func (m *SQLiteManager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *SQLiteManager) Register(username, password string) (playerID, sessionToken string, err error) {
	if err = validateUsername(username); err != nil {
		return "", "", err
	}
	if err = validatePassword(password); err != nil {
		return "", "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	playerID = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
INSERT INTO accounts (player_id, username, username_key, password_hash, created_at_ms, last_login_at_ms)
VALUES (?, ?, ?, ?, ?, ?)`,
		playerID, strings.TrimSpace(username), normalizeUsername(username), hash, nowMs, nowMs)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", "", ErrUsernameTaken
		}
		return "", "", err
	}

	sessionToken = mustToken()
	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (token, player_id, expires_at_ms) VALUES (?, ?, ?)`,
		sessionToken, playerID, time.Now().Add(m.sessionTTL).UTC().UnixMilli())
	if err != nil {
		return "", "", err
	}
	if err = tx.Commit(); err != nil {
		return "", "", err
	}
	return playerID, sessionToken, nil
}

func (m *SQLiteManager) Login(username, password string) (playerID, sessionToken string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hash []byte
	err = m.db.QueryRowContext(ctx, `
SELECT player_id, password_hash FROM accounts WHERE username_key = ?`,
		normalizeUsername(username)).Scan(&playerID, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrInvalidCredentials
	}
	if err != nil {
		return "", "", err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", "", ErrInvalidCredentials
	}

	nowMs := time.Now().UTC().UnixMilli()
	if _, err = m.db.ExecContext(ctx, `
UPDATE accounts SET last_login_at_ms = ? WHERE player_id = ?`, nowMs, playerID); err != nil {
		return "", "", err
	}

	sessionToken = mustToken()
	_, err = m.db.ExecContext(ctx, `
INSERT INTO sessions (token, player_id, expires_at_ms) VALUES (?, ?, ?)`,
		sessionToken, playerID, time.Now().Add(m.sessionTTL).UTC().UnixMilli())
	if err != nil {
		return "", "", err
	}
	return playerID, sessionToken, nil
}

func (m *SQLiteManager) Authenticate(username, password string) (playerID, sessionToken string, err error) {
	playerID, sessionToken, err = m.Login(username, password)
	if errors.Is(err, ErrInvalidCredentials) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var n int
		if qErr := m.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM accounts WHERE username_key = ?`, normalizeUsername(username)).Scan(&n); qErr == nil && n == 0 {
			return m.Register(username, password)
		}
	}
	return playerID, sessionToken, err
}

func (m *SQLiteManager) ResolveSession(token string) (playerID, username string, ok bool) {
	if token == "" {
		return "", "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var expiresMs int64
	err := m.db.QueryRowContext(ctx, `
SELECT s.player_id, a.username, s.expires_at_ms
FROM sessions s JOIN accounts a ON a.player_id = s.player_id
WHERE s.token = ?`, token).Scan(&playerID, &username, &expiresMs)
	if err != nil {
		return "", "", false
	}

	now := time.Now()
	if now.UTC().UnixMilli() >= expiresMs {
		_, _ = m.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
		return "", "", false
	}
	_, _ = m.db.ExecContext(ctx, `
UPDATE sessions SET expires_at_ms = ? WHERE token = ?`,
		now.Add(m.sessionTTL).UTC().UnixMilli(), token)
	return playerID, username, true
}

func (m *SQLiteManager) Logout(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = m.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
}
