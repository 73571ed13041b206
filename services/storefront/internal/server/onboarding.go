package server

import (
	"crypto/subtle"
	"net/http"

	"paperwise/pkg/domain"
)

type onboardingStartRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type onboardingSendNextRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleOnboardingInit(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.Onboarding().Init(r.Context()); err != nil {
		writeDomainError(w, r, err, "failed to initialize onboarding")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOnboardingSequences(w http.ResponseWriter, r *http.Request, _ domain.User) {
	seqs, err := s.app.Onboarding().Sequences(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "failed to list sequences")
		return
	}
	writeList(w, seqs)
}

func (s *Server) handleOnboardingEmails(w http.ResponseWriter, r *http.Request, _ domain.User) {
	logs, err := s.app.Onboarding().Emails(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		writeDomainError(w, r, err, "failed to list emails")
		return
	}
	writeList(w, logs)
}

func (s *Server) handleOnboardingStart(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req onboardingStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	seq, created, err := s.app.Onboarding().Start(r.Context(), req.UserID, req.Email, req.Name)
	if err != nil {
		writeDomainError(w, r, err, "failed to start onboarding")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, seq)
}

func (s *Server) handleOnboardingSendNext(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req onboardingSendNextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.Onboarding().SendNext(r.Context(), req.UserID)
	if err != nil {
		writeDomainError(w, r, err, "failed to send onboarding email")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleOnboardingCron runs one sweep. When a cron secret is configured the
// caller must present it as a bearer token.
func (s *Server) handleOnboardingCron(w http.ResponseWriter, r *http.Request) {
	if s.cronSecret != "" {
		token, _ := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
			s.audit(r, "storefront.cron.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.audit(r, "storefront.cron.authorize", "success")
	}
	report, err := s.app.Onboarding().Sweep(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "failed to process onboarding emails")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
