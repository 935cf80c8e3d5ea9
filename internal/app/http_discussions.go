package app

import (
	"net/http"
	"strconv"

	"github.com/blessing-molokwu/chatademy-sub000/internal/export"
	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleListDiscussions(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r, 10)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	discussions, total, err := s.service.ListDiscussions(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, toDiscussionViews(discussions), page.Meta(total))
}

func (s *HTTPServer) handleCreateDiscussion(w http.ResponseWriter, r *http.Request) {
	var req CreateDiscussionRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.service.CreateDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toDiscussionView(d))
}

// handleGetDiscussion pages the replies; the pagination block describes the
// replies, not the discussion.
func (s *HTTPServer) handleGetDiscussion(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r, 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.GetDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, map[string]any{
		"discussion": toDiscussionView(result.Discussion),
		"replies":    toThreadViews(result.Replies),
	}, page.Meta(result.Total))
}

func (s *HTTPServer) handleUpdateDiscussion(w http.ResponseWriter, r *http.Request) {
	var req UpdateDiscussionRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.service.UpdateDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toDiscussionView(d))
}

func (s *HTTPServer) handleDeleteDiscussion(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Discussion deleted")
}

func (s *HTTPServer) handleExportDiscussion(w http.ResponseWriter, r *http.Request) {
	format, ok := export.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		s.fail(w, r, export.ErrUnsupportedFormat)
		return
	}
	result, err := s.service.ExportDiscussion(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	header := w.Header()
	header.Set("Content-Type", result.MimeType)
	header.Set("Content-Disposition", attachmentHeader(result.Filename))
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleAddReply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.AddReply(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toItemView(item))
}

func (s *HTTPServer) handleEditReply(w http.ResponseWriter, r *http.Request) {
	var req EditContentRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.EditReply(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), chi.URLParam(r, "replyID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toItemView(item))
}

func (s *HTTPServer) handleDeleteReply(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReply(r.Context(), sessionFrom(r), chi.URLParam(r, "discussionID"), chi.URLParam(r, "replyID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Reply deleted")
}

func (s *HTTPServer) handleLikeReply(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	likes, err := s.service.LikeReply(r.Context(), sess, chi.URLParam(r, "discussionID"), chi.URLParam(r, "replyID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toLikesView(likes, sess.UserID))
}
