package app

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// multipartOverhead leaves room for the metadata fields and part headers
// around the file itself.
const multipartOverhead = 1 << 20

func (s *HTTPServer) handleListPapers(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r, 12)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	papers, total, err := s.service.ListPapers(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"), r.URL.Query().Get("search"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePage(w, toPaperViews(papers), page.Meta(total))
}

func (s *HTTPServer) handleUploadPaper(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.service.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.fail(w, r, err)
			return
		}
		s.fail(w, r, badRequest("Expected a multipart/form-data upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := PaperRequest{
		Title:    r.FormValue("title"),
		Abstract: r.FormValue("abstract"),
		Authors:  splitList(r.FormValue("authors")),
		Keywords: splitList(r.FormValue("keywords")),
	}
	problems := req.Validate()
	file, header, err := r.FormFile("file")
	if err != nil {
		problems = append(problems, "file is required")
	} else {
		defer file.Close()
	}
	if len(problems) > 0 {
		s.fail(w, r, validationError(problems))
		return
	}

	paper, err := s.service.UploadPaper(r.Context(), sessionFrom(r), chi.URLParam(r, "groupID"), req, Upload{
		Name: header.Filename,
		Body: file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toPaperView(paper))
}

func (s *HTTPServer) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	paper, err := s.service.GetPaper(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPaperView(paper))
}

func (s *HTTPServer) handleUpdatePaper(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaperRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	paper, err := s.service.UpdatePaper(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPaperView(paper))
}

func (s *HTTPServer) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePaper(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Paper deleted")
}

func (s *HTTPServer) handleDownloadPaper(w http.ResponseWriter, r *http.Request) {
	paper, body, size, err := s.service.DownloadPaper(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	header := w.Header()
	header.Set("Content-Type", paper.ContentType)
	header.Set("Content-Disposition", attachmentHeader(paper.FileName))
	if size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.WithError(err).WithField("paper_id", paper.ID).Warn("stream paper")
	}
}

func (s *HTTPServer) handlePaperHistory(w http.ResponseWriter, r *http.Request) {
	revs, err := s.service.PaperHistory(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toRevisionViews(revs))
}

func (s *HTTPServer) handlePaperRevision(w http.ResponseWriter, r *http.Request) {
	snap, info, err := s.service.PaperRevision(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"hash":      info.Hash,
		"message":   info.Message,
		"author":    info.Author,
		"createdAt": info.CreatedAt,
		"snapshot":  snap,
	})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	forest, total, err := s.service.ListComments(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"comments": toThreadViews(forest),
		"total":    total,
	})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.AddComment(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toItemView(item))
}

func (s *HTTPServer) handleEditComment(w http.ResponseWriter, r *http.Request) {
	var req EditContentRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.EditComment(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"), chi.URLParam(r, "commentID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toItemView(item))
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteComment(r.Context(), sessionFrom(r), chi.URLParam(r, "paperID"), chi.URLParam(r, "commentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Comment deleted")
}

func (s *HTTPServer) handleLikeComment(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	likes, err := s.service.LikeComment(r.Context(), sess, chi.URLParam(r, "paperID"), chi.URLParam(r, "commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toLikesView(likes, sess.UserID))
}

func attachmentHeader(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
