package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/auth"
	"github.com/blessing-molokwu/chatademy-sub000/internal/export"
	"github.com/blessing-molokwu/chatademy-sub000/internal/files"
	"github.com/blessing-molokwu/chatademy-sub000/internal/gitrepo"
	"github.com/blessing-molokwu/chatademy-sub000/internal/notify"
	"github.com/blessing-molokwu/chatademy-sub000/internal/pagination"
	"github.com/blessing-molokwu/chatademy-sub000/internal/ratelimit"
	"github.com/blessing-molokwu/chatademy-sub000/internal/session"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	proxies    []netip.Prefix
	log        logrus.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		proxies:    parseProxies(service.cfg.TrustedProxies, service.log),
		log:        service.log,
	}
}

// parseProxies accepts CIDRs and bare addresses. Bad entries are logged and
// skipped.
func parseProxies(values []string, log logrus.FieldLogger) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(raw); err == nil {
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		log.WithField("value", raw).Warn("ignoring invalid trusted proxy")
	}
	return out
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.realIP)
	r.Use(s.withMiddleware)
	r.Use(s.recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Route("/api/auth", func(r chi.Router) {
		r.With(s.limitAuth("register")).Post("/register", s.handleRegister)
		r.With(s.limitAuth("login")).Post("/login", s.handleLogin)
		r.With(s.limitAuth("forgot-password")).Post("/forgot-password", s.handleForgotPassword)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/verify-email", s.handleVerifyEmail)
		r.Post("/reset-password", s.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
			r.Put("/profile", s.handleUpdateProfile)
			r.Put("/password", s.handleChangePassword)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/api/users", s.handleListUsers)
		r.Get("/api/users/{userID}", s.handleGetUser)

		r.Route("/api/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)
			r.Get("/mine", s.handleMyGroups)
			r.Route("/{groupID}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Put("/", s.handleUpdateGroup)
				r.Delete("/", s.handleDeleteGroup)
				r.Post("/join", s.handleJoinGroup)
				r.Post("/leave", s.handleLeaveGroup)
				r.Get("/members", s.handleListMembers)
				r.Put("/members/{userID}", s.handleUpdateMemberRole)
				r.Delete("/members/{userID}", s.handleRemoveMember)
				r.Get("/invitations", s.handleGroupInvitations)
				r.Post("/invitations", s.handleCreateInvitation)
				r.Get("/papers", s.handleListPapers)
				r.Post("/papers", s.handleUploadPaper)
				r.Get("/discussions", s.handleListDiscussions)
				r.Post("/discussions", s.handleCreateDiscussion)
			})
		})

		r.Route("/api/invitations", func(r chi.Router) {
			r.Get("/", s.handleMyInvitations)
			r.Post("/{invitationID}/accept", s.handleAcceptInvitation)
			r.Post("/{invitationID}/decline", s.handleDeclineInvitation)
			r.Delete("/{invitationID}", s.handleCancelInvitation)
		})

		r.Route("/api/papers/{paperID}", func(r chi.Router) {
			r.Get("/", s.handleGetPaper)
			r.Put("/", s.handleUpdatePaper)
			r.Delete("/", s.handleDeletePaper)
			r.Get("/download", s.handleDownloadPaper)
			r.Get("/history", s.handlePaperHistory)
			r.Get("/history/{hash}", s.handlePaperRevision)
			r.Get("/comments", s.handleListComments)
			r.Post("/comments", s.handleAddComment)
			r.Put("/comments/{commentID}", s.handleEditComment)
			r.Delete("/comments/{commentID}", s.handleDeleteComment)
			r.Post("/comments/{commentID}/like", s.handleLikeComment)
		})

		r.Route("/api/discussions/{discussionID}", func(r chi.Router) {
			r.Get("/", s.handleGetDiscussion)
			r.Put("/", s.handleUpdateDiscussion)
			r.Delete("/", s.handleDeleteDiscussion)
			r.Get("/export", s.handleExportDiscussion)
			r.Post("/replies", s.handleAddReply)
			r.Put("/replies/{replyID}", s.handleEditReply)
			r.Delete("/replies/{replyID}", s.handleDeleteReply)
			r.Post("/replies/{replyID}/like", s.handleLikeReply)
		})

		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Put("/read-all", s.handleMarkAllNotificationsRead)
			r.Put("/{notificationID}/read", s.handleMarkNotificationRead)
		})

		r.Get("/api/search", s.handleSearch)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, domainError(http.StatusNotFound, "NOT_FOUND", "Route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, domainError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed"))
	})
	return r
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

// recoverer turns a handler panic into a logged 500.
func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.fail(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

type sessionKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, Retry-After, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// requireSession rejects requests without a valid, unrevoked access token
// and stores the caller's Session in the request context.
func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.fail(w, r, unauthenticated(""))
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) Session {
	sess, _ := r.Context().Value(sessionKey{}).(Session)
	return sess
}

// limitAuth applies the auth rate limit, keyed by action and client IP.
func (s *HTTPServer) limitAuth(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := s.service.LimitAuth(r.Context(), action, clientIP(r)); err != nil {
				s.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// realIP replaces RemoteAddr with the client address reported by a trusted
// proxy. Forwarding headers from any other peer are ignored.
func (s *HTTPServer) realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := s.forwardedClient(r); ip != "" {
			r.RemoteAddr = ip
		}
		next.ServeHTTP(w, r)
	})
}

// forwardedClient returns "" unless the direct peer is a trusted proxy. It
// prefers X-Real-IP, then walks X-Forwarded-For from the right and returns
// the first hop that is not itself a trusted proxy.
func (s *HTTPServer) forwardedClient(r *http.Request) string {
	if !s.trustedProxy(clientIP(r)) {
		return ""
	}
	if raw := strings.TrimSpace(r.Header.Get("X-Real-IP")); raw != "" {
		if addr, err := netip.ParseAddr(raw); err == nil {
			return addr.Unmap().String()
		}
	}
	var hops []string
	for _, value := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(value, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return ""
		}
		if hop := addr.Unmap().String(); !s.trustedProxy(hop) {
			return hop
		}
	}
	return ""
}

func (s *HTTPServer) trustedProxy(host string) bool {
	if len(s.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type envelope struct {
	Success    bool             `json:"success"`
	Data       any              `json:"data,omitempty"`
	Pagination *pagination.Meta `json:"pagination,omitempty"`
	Code       string           `json:"code,omitempty"`
	Message    string           `json:"message,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writePage(w http.ResponseWriter, data any, meta pagination.Meta) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Pagination: &meta})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: true, Message: message})
}

// fail renders err through mapError. Unexpected errors are logged with the
// request id and hidden from the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	derr := mapError(err)
	if derr.Status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	if derr.RetryAfter > 0 {
		seconds := int((derr.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	writeJSON(w, derr.Status, envelope{
		Success: false,
		Code:    derr.Code,
		Message: derr.Message,
		Errors:  derr.Errors,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodeRequest decodes a JSON body into target and validates it.
func decodeRequest(r *http.Request, target validator) error {
	if err := decodeBody(r, target); err != nil {
		return badRequest(err.Error())
	}
	if problems := target.Validate(); len(problems) > 0 {
		return validationError(problems)
	}
	return nil
}

func pageParams(r *http.Request, defaultLimit int) (pagination.Params, error) {
	params, problems := pagination.Parse(r.URL.Query(), defaultLimit)
	if len(problems) > 0 {
		return pagination.Params{}, validationError(problems)
	}
	return params, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// mapError is the single translation from collaborator errors to the API
// error taxonomy.
func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var limited *ratelimit.LimitedError
	if errors.As(err, &limited) {
		return rateLimited(limited.RetryAfter)
	}
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, ratelimit.ErrLimited):
		return rateLimited(time.Minute)
	case errors.Is(err, sql.ErrNoRows):
		return notFound("Resource")
	case errors.Is(err, gitrepo.ErrNotFound):
		return notFound("Revision")
	case errors.Is(err, notify.ErrNotFound):
		return notFound("Notification")
	case errors.Is(err, files.ErrNotFound):
		return notFound("File")
	case errors.Is(err, session.ErrNotFound):
		return unauthenticated("Invalid or expired refresh token")
	case errors.Is(err, auth.ErrExpiredToken):
		return unauthenticated("Token has expired")
	case errors.Is(err, auth.ErrInvalidToken):
		return unauthenticated("Invalid token")
	case errors.Is(err, files.ErrTooLarge), errors.As(err, &tooBig):
		return domainError(http.StatusBadRequest, "FILE_TOO_LARGE", "File exceeds the upload size limit")
	case errors.Is(err, files.ErrUnsupportedType):
		return domainError(http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "Only PDF, DOC, DOCX and TXT files are allowed")
	case errors.Is(err, files.ErrEmpty):
		return domainError(http.StatusBadRequest, "EMPTY_FILE", "Uploaded file is empty")
	case errors.Is(err, export.ErrUnsupportedFormat):
		return badRequest("format must be html or pdf")
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server")
	case store.IsUniqueViolation(err):
		return domainError(http.StatusBadRequest, "DUPLICATE_VALUE", "duplicate value")
	case store.IsForeignKeyViolation(err):
		return domainError(http.StatusBadRequest, "INVALID_REFERENCE", "Referenced resource does not exist")
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "An unexpected error occurred")
}
