package auth

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"cloudarc/internal/observability"
)

// In-memory store implementations backing the service tests. They mirror the
// pg repository's contract, including sql.ErrNoRows for absent rows and the
// conditional semantics of RevokeIfActive and ConsumeIfUnused.

type memoryStore struct {
	mu     sync.Mutex
	users  map[string]User               // by id
	tokens map[string]RefreshToken       // by hash
	resets map[string]PasswordResetToken // by hash
	nextID int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:  make(map[string]User),
		tokens: make(map[string]RefreshToken),
		resets: make(map[string]PasswordResetToken),
	}
}

func (m *memoryStore) rowID() string {
	m.nextID++
	return "row-" + strconv.Itoa(m.nextID)
}

func (m *memoryStore) CreateUser(ctx context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (m *memoryStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	m.users[userID] = user
	return nil
}

func (m *memoryStore) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token.ID = m.rowID()
	m.tokens[token.TokenHash] = token
	return nil
}

func (m *memoryStore) FindRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenHash]
	if !ok {
		return RefreshToken{}, sql.ErrNoRows
	}
	return token, nil
}

func (m *memoryStore) RevokeIfActive(ctx context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenHash]
	if !ok || token.Revoked {
		return false, nil
	}
	token.Revoked = true
	m.tokens[tokenHash] = token
	return true, nil
}

func (m *memoryStore) RevokeFamily(ctx context.Context, family string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, token := range m.tokens {
		if token.Family == family {
			token.Revoked = true
			m.tokens[hash] = token
		}
	}
	return nil
}

func (m *memoryStore) RevokeAllForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, token := range m.tokens {
		if token.UserID == userID {
			token.Revoked = true
			m.tokens[hash] = token
		}
	}
	return nil
}

func (m *memoryStore) DeleteExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var deleted int64
	for hash, token := range m.tokens {
		if token.ExpiresAt.Before(now) {
			delete(m.tokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryStore) CreatePasswordReset(ctx context.Context, token PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token.ID = m.rowID()
	m.resets[token.TokenHash] = token
	return nil
}

func (m *memoryStore) FindValidPasswordReset(ctx context.Context, tokenHash string, now time.Time) (PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.resets[tokenHash]
	if !ok || token.Used || !token.ExpiresAt.After(now) {
		return PasswordResetToken{}, sql.ErrNoRows
	}
	return token, nil
}

func (m *memoryStore) ConsumeIfUnused(ctx context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.resets[tokenHash]
	if !ok || token.Used {
		return false, nil
	}
	token.Used = true
	m.resets[tokenHash] = token
	return true, nil
}

func (m *memoryStore) InvalidateAllForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, token := range m.resets {
		if token.UserID == userID {
			token.Used = true
			m.resets[hash] = token
		}
	}
	return nil
}

func (m *memoryStore) DeleteExpiredPasswordResets(ctx context.Context, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var deleted int64
	for hash, token := range m.resets {
		if token.ExpiresAt.Before(now) {
			delete(m.resets, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryStore) activeTokensForUser(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, token := range m.tokens {
		if token.UserID == userID && !token.Revoked {
			count++
		}
	}
	return count
}

// recordingMailer captures outbound mail for assertions.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail error
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

func newTestService() (*Service, *memoryStore, *recordingMailer) {
	store := newMemoryStore()
	mailer := &recordingMailer{}
	codec := NewTokenCodec("access-secret-for-tests", "refresh-secret-for-tests")
	service := NewService(store, store, store, codec, mailer, observability.NewNopLogger())
	return service, store, mailer
}
