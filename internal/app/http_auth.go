package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type authResponse struct {
	User                 userView  `json:"user"`
	Token                string    `json:"token"`
	RefreshToken         string    `json:"refreshToken"`
	ExpiresAt            time.Time `json:"expiresAt"`
	DevVerificationToken string    `json:"devVerificationToken,omitempty"`
}

func newAuthResponse(result AuthResult) authResponse {
	return authResponse{
		User:                 toUserView(result.User),
		Token:                result.Session.Token,
		RefreshToken:         result.Session.RefreshToken,
		ExpiresAt:            result.Session.ExpiresAt,
		DevVerificationToken: result.DevToken,
	}
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Register(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, newAuthResponse(result))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Login(r.Context(), req, clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newAuthResponse(result))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"expiresAt":    sess.ExpiresAt,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, badRequest(err.Error()))
		return
	}
	if err := s.service.Logout(r.Context(), sessionFrom(r), req.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out")
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Me(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toUserView(user))
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.service.UpdateProfile(r.Context(), sessionFrom(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toUserView(user))
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.ChangePassword(r.Context(), sessionFrom(r), req); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password updated")
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.VerifyEmail(r.Context(), req.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Email verified")
}

// handleForgotPassword answers the same way for known and unknown
// addresses. The reset token is echoed only when email is disabled.
func (s *HTTPServer) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := s.service.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := envelope{Success: true, Message: "If that email is registered, a reset link has been sent"}
	if token != "" {
		payload.Data = map[string]string{"devResetToken": token}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.ResetPassword(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password has been reset")
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r, 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	users, total, err := s.service.ListUsers(r.Context(), r.URL.Query().Get("search"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, toPublicUserView(u))
	}
	writePage(w, views, page.Meta(total))
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPublicUserView(user))
}
