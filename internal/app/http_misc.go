package app

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/notify"
	"github.com/blessing-molokwu/chatademy-sub000/internal/pagination"
	"github.com/blessing-molokwu/chatademy-sub000/internal/search"
	"github.com/go-chi/chi/v5"
)

const readyTimeout = 3 * time.Second

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status": "ok",
		"search": s.service.SearchEngine(),
		"time":   time.Now().UTC(),
	})
}

// handleReady reports every dependency check; any failure turns the whole
// answer into a 503.
func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failures := s.service.Ready(ctx)
	checks := make(map[string]string, len(s.service.checks))
	for name := range s.service.checks {
		checks[name] = "ok"
	}
	for name, err := range failures {
		checks[name] = err.Error()
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			Success: false,
			Code:    "NOT_READY",
			Message: "One or more dependencies are unavailable",
			Data:    map[string]any{"checks": checks},
		})
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := notify.DefaultCap
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > notify.DefaultCap {
			s.fail(w, r, validationError([]string{"limit must be between 1 and " + strconv.Itoa(notify.DefaultCap)}))
			return
		}
		limit = parsed
	}
	items, unread, err := s.service.ListNotifications(r.Context(), sessionFrom(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []notify.Notification{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"notifications": items,
		"unreadCount":   unread,
	})
}

func (s *HTTPServer) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.service.MarkNotificationRead(r.Context(), sessionFrom(r), chi.URLParam(r, "notificationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Notification marked as read")
}

func (s *HTTPServer) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := s.service.MarkAllNotificationsRead(r.Context(), sessionFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "All notifications marked as read")
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, problems := pagination.Parse(query, 20)
	rtype, ok := search.ParseType(query.Get("type"))
	if !ok {
		problems = append(problems, "type must be one of papers, groups, discussions")
	}
	req := SearchRequest{Query: strings.TrimSpace(query.Get("q")), Type: rtype, Page: page}
	problems = append(problems, req.Validate()...)
	if len(problems) > 0 {
		s.fail(w, r, validationError(problems))
		return
	}
	resp, err := s.service.Search(r.Context(), sessionFrom(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, resp, page.Meta(resp.Total))
}
