package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Dijker/com.netatmo/internal/audit"
	"github.com/Dijker/com.netatmo/internal/netatmo"
)

// maxQueryParamLen bounds ids taken from the path or query string.
const maxQueryParamLen = 256

// resumeRequest links an account from an existing token pair.
type resumeRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.accounts.List()
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts, "count": len(accounts)})
}

// handleAuthorize starts the consent flow. The client sends the user to
// url; the vendor redirects back to the OAuth callback with state.
func (s *Server) handleAuthorize(w http.ResponseWriter, _ *http.Request) {
	consentURL, state := s.authorizer.Begin()
	writeJSON(w, http.StatusOK, map[string]string{"url": consentURL, "state": state})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, ErrCodeUnauthorized, "authorization denied: "+reason)
		return
	}

	state, code := q.Get("state"), q.Get("code")
	if state == "" || len(state) > maxQueryParamLen || len(code) > maxQueryParamLen {
		writeBadRequest(w, "state and code are required")
		return
	}

	accountID, err := s.authorizer.Complete(r.Context(), state, code)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("account linked", "account_id", accountID)
	s.record(r, audit.Entry{
		Action: audit.ActionAccountLinked, Subject: accountID, AccountID: accountID,
		Details: map[string]any{"method": "oauth"},
	})
	writeJSON(w, http.StatusOK, map[string]string{"account_id": accountID})
}

func (s *Server) handleResumeAccount(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.AccessToken = strings.TrimSpace(req.AccessToken)
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.AccessToken == "" || req.RefreshToken == "" {
		writeBadRequest(w, "access_token and refresh_token are required")
		return
	}

	accountID, err := s.accounts.Authenticate(r.Context(), netatmo.Credentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.Entry{
		Action: audit.ActionAccountLinked, Subject: accountID, AccountID: accountID,
		Details: map[string]any{"method": "token"},
	})
	writeJSON(w, http.StatusCreated, map[string]string{"account_id": accountID})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.accounts.Remove(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.Entry{Action: audit.ActionAccountRemoved, Subject: id, AccountID: id})
	if s.onAccountRemoved != nil {
		s.onAccountRemoved(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.refresher.RefreshAccount(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account_id": id, "status": "refreshed"})
}
