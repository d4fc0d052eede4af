// Авторизация веб-панели: разовые токены и cookie-сессии. Токен выдаётся
// командой /dashboard, живёт до первого использования и обменивается на
// сессию. Дополнительно принимается статический токен из окружения, чтобы
// мониторинг мог ходить в JSON API без участия оператора.

package web

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuthManager управляет токенами и сессиями панели.
type AuthManager struct {
	mu sync.RWMutex
	// token — действующий разовый токен; пустая строка = не выдан.
	token string
	// staticToken — постоянный токен из конфигурации; пустая строка = выключен.
	staticToken string
	sessions    map[string]*session
	sessionTTL  time.Duration
}

type session struct {
	createdAt time.Time
	lastSeen  time.Time
}

// NewAuthManager создаёт менеджер с заданным временем жизни сессии.
func NewAuthManager(sessionTTL time.Duration, staticToken string) *AuthManager {
	return &AuthManager{
		staticToken: staticToken,
		sessions:    make(map[string]*session),
		sessionTTL:  sessionTTL,
	}
}

// GenerateToken выдаёт новый разовый токен. Предыдущий токен и все открытые
// сессии при этом аннулируются.
func (am *AuthManager) GenerateToken() string {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.token = uuid.New().String()
	am.sessions = make(map[string]*session)
	return am.token
}

// ValidateToken проверяет токен и открывает сессию. Разовый токен после
// успешного обмена гасится, статический остаётся действовать.
func (am *AuthManager) ValidateToken(token string) (string, bool) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if token == "" {
		return "", false
	}
	switch token {
	case am.token:
		am.token = ""
	case am.staticToken:
		if am.staticToken == "" {
			return "", false
		}
	default:
		return "", false
	}

	sessionID := uuid.New().String()
	now := time.Now()
	am.sessions[sessionID] = &session{createdAt: now, lastSeen: now}
	return sessionID, true
}

// ValidateSession проверяет сессию и продлевает её.
func (am *AuthManager) ValidateSession(sessionID string) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	s, ok := am.sessions[sessionID]
	if !ok {
		return false
	}
	if time.Since(s.lastSeen) > am.sessionTTL {
		delete(am.sessions, sessionID)
		return false
	}
	s.lastSeen = time.Now()
	return true
}

// CleanExpiredSessions удаляет просроченные сессии.
func (am *AuthManager) CleanExpiredSessions() {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	for id, s := range am.sessions {
		if now.Sub(s.lastSeen) > am.sessionTTL {
			delete(am.sessions, id)
		}
	}
}
