package server

import (
	"net/http"
	"strings"

	"paperwise/internal/util"
	"paperwise/pkg/domain"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expiresIn"`
	User      domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "storefront.signup", "rate_limited")
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "storefront.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.audit(r, "storefront.signup", "fail", "reason", domain.KindOf(err).String())
		writeDomainError(w, r, err, "")
		return
	}
	s.audit(r, "storefront.signup", "success", "user_id", user.ID, "role", string(user.Role))
	writeJSON(w, http.StatusCreated, authResponse{
		Token:     token,
		ExpiresIn: int64(s.app.SessionTTL().Seconds()),
		User:      user,
	})
}

// handleLogin issues a session. A guest cart named by X-Guest-Cart is merged
// into the user's cart; a failed merge does not fail the login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "storefront.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "storefront.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "storefront.login", "fail", "reason", domain.KindOf(err).String())
		writeDomainError(w, r, err, "")
		return
	}
	s.audit(r, "storefront.login", "success", "user_id", user.ID)
	if guest := strings.TrimSpace(r.Header.Get(guestCartHeader)); guest != "" {
		if _, err := s.app.Cart().SyncGuestCart(r.Context(), user.ID, guest); err != nil {
			util.LoggerFromContext(r.Context()).Warn("guest cart sync failed", "user_id", user.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, authResponse{
		Token:     token,
		ExpiresIn: int64(s.app.SessionTTL().Seconds()),
		User:      user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "storefront.logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		s.audit(r, "storefront.logout", "fail", "reason", domain.KindOf(err).String())
		writeDomainError(w, r, err, "")
		return
	}
	s.audit(r, "storefront.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, user)
}
