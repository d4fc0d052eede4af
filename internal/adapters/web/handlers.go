// Обработчики панели: HTML-страница и JSON API поверх исполнителя команд.

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/shared"
)

const apiTimeout = 5 * time.Second

// pageData — данные рендеринга страницы панели.
type pageData struct {
	Title string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, pageData{Title: "Replication Dashboard"}); err != nil {
		logger.Errorf("web: dashboard render failed: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// statusResponse — тело ответа /api/status.
type statusResponse struct {
	Online      bool   `json:"online"`
	Paused      bool   `json:"paused"`
	Uptime      string `json:"uptime"`
	UptimeSec   int64  `json:"uptime_seconds"`
	PairsTotal  int    `json:"pairs_total"`
	PairsActive int    `json:"pairs_active"`
	QueueDepth  int    `json:"queue_depth"`
	QueueCap    int    `json:"queue_capacity"`
	Dropped     int64  `json:"queue_dropped"`
	BotsTotal   int    `json:"bots_total"`
	BotsHealthy int    `json:"bots_healthy"`
	TotalCopied int64  `json:"messages_copied"`
	TotalFailed int64  `json:"messages_failed"`
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	st, err := s.executor.Status(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, statusResponse{
		Online:      s.online(),
		Paused:      st.Paused,
		Uptime:      shared.FormatUptime(st.Uptime),
		UptimeSec:   int64(st.Uptime.Seconds()),
		PairsTotal:  st.PairsTotal,
		PairsActive: st.PairsActive,
		QueueDepth:  st.QueueDepth,
		QueueCap:    st.QueueCap,
		Dropped:     st.Dropped,
		BotsTotal:   st.BotsTotal,
		BotsHealthy: st.BotsHealthy,
		TotalCopied: st.TotalCopied,
		TotalFailed: st.TotalFailed,
	})
}

// pairResponse — строка ответа /api/pairs.
type pairResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Source   int64  `json:"source_chat_id"`
	Dest     int64  `json:"destination_chat_id"`
	Active   bool   `json:"active"`
	BotIndex int    `json:"bot_index"`
	Copied   int64  `json:"messages_copied"`
}

func (s *Server) handleAPIPairs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	list, err := s.executor.ListPairs(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]pairResponse, 0, len(list))
	for _, p := range list {
		out = append(out, pairResponse{
			ID:       p.ID,
			Name:     p.Name,
			Source:   p.Source,
			Dest:     p.Dest,
			Active:   p.Active,
			BotIndex: p.BotIndex,
			Copied:   p.Copied,
		})
	}
	writeJSON(w, out)
}

// botResponse — строка ответа /api/metrics.
type botResponse struct {
	Index             int     `json:"index"`
	Username          string  `json:"username"`
	Healthy           bool    `json:"healthy"`
	Quarantined       bool    `json:"quarantined"`
	MessagesProcessed int64   `json:"messages_processed"`
	SuccessRate       float64 `json:"success_rate"`
	AvgProcessingTime float64 `json:"avg_processing_time_sec"`
	ErrorCount        int64   `json:"error_count"`
	LastActivity      string  `json:"last_activity,omitempty"`
}

type metricsResponse struct {
	Bots  []botResponse  `json:"bots"`
	Queue map[string]any `json:"queue"`
}

func (s *Server) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), apiTimeout)
	defer cancel()

	bots, err := s.executor.Bots(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	queue, err := s.executor.QueueInfo(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := metricsResponse{
		Bots: make([]botResponse, 0, len(bots)),
		Queue: map[string]any{
			"urgent":   queue.Stats.Urgent,
			"high":     queue.Stats.High,
			"normal":   queue.Stats.Normal,
			"low":      queue.Stats.Low,
			"dropped":  queue.Stats.Dropped,
			"capacity": queue.Capacity,
		},
	}
	for _, b := range bots {
		row := botResponse{
			Index:             b.Index,
			Username:          b.Username,
			Healthy:           b.Stats.Healthy(),
			Quarantined:       b.Quarantined,
			MessagesProcessed: b.Stats.MessagesProcessed,
			SuccessRate:       b.Stats.SuccessRate,
			AvgProcessingTime: b.Stats.AvgProcessingTime,
			ErrorCount:        b.Stats.ErrorCount,
		}
		if !b.Stats.LastActivity.IsZero() {
			row.LastActivity = b.Stats.LastActivity.Format(time.RFC3339)
		}
		resp.Bots = append(resp.Bots, row)
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("web: json encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	logger.Errorf("web: api call failed: %v", err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	writeResponse(w, []byte(`{"error":`+jsonString(err.Error())+`}`))
}

func jsonString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `"internal error"`
	}
	return string(b)
}
