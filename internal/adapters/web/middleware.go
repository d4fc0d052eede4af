package web

import (
	"net/http"
	"strings"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

const (
	sessionCookieName = "luffy_session"
	sessionMaxAge     = 3600
)

// authMiddleware обменивает токен из query на cookie-сессию и дальше пускает
// только валидные сессии. API-запросы без авторизации получают голый 401,
// страницы — подсказку, как получить ссылку.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("token"); token != "" {
			sessionID, valid := s.auth.ValidateToken(token)
			if !valid {
				logger.Warnf("web: invalid auth token from %s", r.RemoteAddr)
				http.Error(w, "invalid authentication token", http.StatusUnauthorized)
				return
			}
			setSessionCookie(w, sessionID)
			// Редирект убирает токен из адресной строки.
			http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
			return
		}

		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || !s.auth.ValidateSession(cookie.Value) {
			s.renderUnauthorized(w, r)
			return
		}

		setSessionCookie(w, cookie.Value)
		next.ServeHTTP(w, r)
	})
}

func setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) renderUnauthorized(w http.ResponseWriter, r *http.Request) {
	logger.Debugf("web: unauthorized %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

	if strings.HasPrefix(r.URL.Path, "/api/") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	writeResponse(w, []byte(unauthorizedPage))
}

// loggingMiddleware логирует все входящие запросы.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// writeResponse пишет тело ответа, логируя ошибку записи.
func writeResponse(w http.ResponseWriter, body []byte) {
	if _, err := w.Write(body); err != nil {
		logger.Warnf("web: response write failed: %v", err)
	}
}
