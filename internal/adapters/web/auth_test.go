package web

import (
	"testing"
	"time"
)

func TestOneTimeTokenConsumedOnUse(t *testing.T) {
	t.Parallel()

	am := NewAuthManager(time.Hour, "")
	token := am.GenerateToken()
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	sid, ok := am.ValidateToken(token)
	if !ok || sid == "" {
		t.Fatalf("ValidateToken() = %q, %t; want session", sid, ok)
	}

	// Повторный обмен того же токена должен провалиться.
	if _, ok := am.ValidateToken(token); ok {
		t.Fatal("one-time token accepted twice")
	}
}

func TestGenerateTokenInvalidatesPrevious(t *testing.T) {
	t.Parallel()

	am := NewAuthManager(time.Hour, "")
	old := am.GenerateToken()
	sid, _ := am.ValidateToken(am.GenerateToken())
	_ = sid

	if _, ok := am.ValidateToken(old); ok {
		t.Fatal("stale token accepted after regeneration")
	}
}

func TestGenerateTokenDropsOpenSessions(t *testing.T) {
	t.Parallel()

	am := NewAuthManager(time.Hour, "")
	sid, ok := am.ValidateToken(am.GenerateToken())
	if !ok {
		t.Fatal("ValidateToken() failed")
	}
	am.GenerateToken()

	if am.ValidateSession(sid) {
		t.Fatal("session survived token regeneration")
	}
}

func TestStaticTokenIsReusable(t *testing.T) {
	t.Parallel()

	am := NewAuthManager(time.Hour, "monitoring-secret")
	for i := 0; i < 2; i++ {
		if _, ok := am.ValidateToken("monitoring-secret"); !ok {
			t.Fatalf("static token rejected on use #%d", i+1)
		}
	}
}

func TestEmptyTokenRejected(t *testing.T) {
	t.Parallel()

	// Пустой статический токен не должен открывать доступ по пустой строке.
	am := NewAuthManager(time.Hour, "")
	if _, ok := am.ValidateToken(""); ok {
		t.Fatal("empty token accepted")
	}
}

func TestUnknownSessionRejected(t *testing.T) {
	t.Parallel()

	am := NewAuthManager(time.Hour, "")
	if am.ValidateSession("nope") {
		t.Fatal("unknown session accepted")
	}
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	am := NewAuthManager(30*time.Millisecond, "")
	sid, ok := am.ValidateToken(am.GenerateToken())
	if !ok {
		t.Fatal("ValidateToken() failed")
	}
	if !am.ValidateSession(sid) {
		t.Fatal("fresh session rejected")
	}

	time.Sleep(50 * time.Millisecond)
	if am.ValidateSession(sid) {
		t.Fatal("expired session accepted")
	}
}

func TestCleanExpiredSessions(t *testing.T) {
	t.Parallel()

	am := NewAuthManager(10*time.Millisecond, "static")
	stale, _ := am.ValidateToken("static")

	time.Sleep(20 * time.Millisecond)
	fresh, _ := am.ValidateToken("static")
	am.CleanExpiredSessions()

	if am.ValidateSession(stale) {
		t.Fatal("stale session survived cleanup")
	}
	if !am.ValidateSession(fresh) {
		t.Fatal("fresh session removed by cleanup")
	}
}
