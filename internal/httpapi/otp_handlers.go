package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"autoaccess.org/internal/otp"
)

type otpRequest struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleOTPRequest always answers 202: whether an account exists must
// not be observable from this endpoint.
func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.otp == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login unavailable")
		return
	}

	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	if _, err := a.otp.Issue(r.Context(), req.Email); err != nil && !errors.Is(err, otp.ErrNoActiveAccount) {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.otp == nil || a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login unavailable")
		return
	}

	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "email and code are required")
		return
	}

	if err := a.otp.Verify(r.Context(), req.Email, req.Code); err != nil {
		writeError(w, r, http.StatusUnauthorized, otp.Reason(err))
		return
	}

	token, expiresAt, err := a.sessions.Issue(req.Email)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, ExpiresAt: expiresAt})
}

// handleMe is the employee self view: the account behind the session
// token, credential hash excluded by encoding.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	email := sessionEmailFromContext(r.Context())
	if email == "" {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	acc, err := a.store.GetByEmail(r.Context(), email)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
