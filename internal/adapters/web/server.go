// Веб-панель наблюдения за репликацией: token-protected JSON API и
// минимальная HTML-страница поверх того же исполнителя команд, что и
// админ-бот с консолью. Публично доступны только /health и /metrics.

package web

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/go-faster/errors"

	"github.com/sunil55999/Luffy/internal/domain/commands"
	"github.com/sunil55999/Luffy/internal/infra/config"
	"github.com/sunil55999/Luffy/internal/infra/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second

	sessionTTL                   = time.Hour
	cleanExpiredSessionsInterval = 3 * time.Minute
)

// Server — HTTP-сервер панели.
type Server struct {
	srv      *http.Server
	auth     *AuthManager
	executor commands.Executor
	tmpl     *template.Template
	online   func() bool

	cancel context.CancelFunc
}

// NewServer собирает сервер панели. Коллектор публикует живые показатели
// репликации на /metrics, online сообщает состояние клиента-наблюдателя;
// адрес и статический токен берутся из окружения.
func NewServer(executor commands.Executor, collector *Collector, online func() bool) *Server {
	env := config.Env()

	if online == nil {
		online = func() bool { return false }
	}
	s := &Server{
		auth:     NewAuthManager(sessionTTL, env.WebAuthToken),
		executor: executor,
		tmpl:     template.Must(template.New("").Parse(dashboardTemplate)),
		online:   online,
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	if collector != nil {
		promRegistry.MustRegister(collector)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	protected := http.NewServeMux()
	protected.HandleFunc("/", s.handleDashboard)
	protected.HandleFunc("/api/status", s.handleAPIStatus)
	protected.HandleFunc("/api/pairs", s.handleAPIPairs)
	protected.HandleFunc("/api/metrics", s.handleAPIMetrics)
	mux.Handle("/", s.authMiddleware(protected))

	s.srv = &http.Server{
		Addr:         env.WebServerAddress,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// DashboardLink выдаёт разовую ссылку входа в панель.
func (s *Server) DashboardLink(_ context.Context) (string, error) {
	token := s.auth.GenerateToken()
	logger.Info("issued one-time dashboard token")
	return "http://" + s.srv.Addr + "/?token=" + token, nil
}

// Start запускает сервер и блокируется до его остановки.
func (s *Server) Start() error {
	logger.Info("starting web server", zap.String("address", s.srv.Addr))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.cleanupLoop(ctx)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Debug("stopping web server")
	if s.cancel != nil {
		s.cancel()
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanExpiredSessionsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.auth.CleanExpiredSessions()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	writeResponse(w, []byte("OK"))
}
