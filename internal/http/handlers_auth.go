package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/services/auth"
)

// authHandlers expone los flujos públicos de services/auth.
type authHandlers struct {
	svc *auth.Service
}

func meta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func appID(r *http.Request) string {
	return chi.URLParam(r, "applicationID")
}

// POST /v1/apps/{applicationID}/register
func (h *authHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.svc.Register(r.Context(), auth.RegisterInput{
		ApplicationID: appID(r),
		Email:         req.Email,
		Password:      req.Password,
		Name:          req.Name,
		Meta:          meta(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, RegisterResponse{
		UserID:               res.UserID,
		VerificationRequired: res.VerificationRequired,
		VerificationMode:     string(res.VerificationMode),
		VerificationToken:    res.VerificationToken,
	})
}

// POST /v1/apps/{applicationID}/email/confirm
func (h *authHandlers) confirmEmail(w http.ResponseWriter, r *http.Request) {
	var req ConfirmEmailRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Token == "" {
		WriteError(w, r, apperrors.ErrBadRequest.WithDetail("token is required"))
		return
	}
	err := h.svc.ConfirmEmail(r.Context(), auth.ConfirmEmailInput{
		ApplicationID: appID(r),
		Token:         req.Token,
		Code:          req.Code,
		Meta:          meta(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, StatusResponse{Status: "verified"})
}

// POST /v1/apps/{applicationID}/email/resend
// Responde igual exista o no la cuenta.
func (h *authHandlers) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	tok, err := h.svc.ResendVerification(r.Context(), auth.ResendVerificationInput{
		ApplicationID: appID(r),
		Email:         req.Email,
		Meta:          meta(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, ResendResponse{Status: "accepted", VerificationToken: tok})
}

// POST /v1/apps/{applicationID}/login
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.svc.Login(r.Context(), auth.LoginInput{
		ApplicationID: appID(r),
		Email:         req.Email,
		Password:      req.Password,
		Meta:          meta(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if res.TOTPRequired {
		exp := res.FlowExpiresAt
		WriteJSON(w, http.StatusOK, LoginResponse{TOTPRequired: true, FlowToken: res.FlowToken, FlowExpiresAt: &exp})
		return
	}
	WriteJSON(w, http.StatusOK, LoginResponse{TokenResponse: tokenResponse(res.Tokens)})
}

// POST /v1/apps/{applicationID}/login/totp
func (h *authHandlers) confirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req TOTPConfirmRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.FlowToken == "" || req.Code == "" {
		WriteError(w, r, apperrors.ErrBadRequest.WithDetail("flow_token and code are required"))
		return
	}
	toks, err := h.svc.ConfirmTOTP(r.Context(), auth.ConfirmTOTPInput{
		ApplicationID: appID(r),
		FlowToken:     req.FlowToken,
		Code:          req.Code,
		Meta:          meta(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tokenResponse(toks))
}

// POST /v1/apps/{applicationID}/token/refresh
func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	toks, err := h.svc.Refresh(r.Context(), appID(r), req.RefreshToken, meta(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tokenResponse(toks))
}

// POST /v1/apps/{applicationID}/logout
func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.svc.Logout(r.Context(), appID(r), req.RefreshToken); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/apps/{applicationID}/password/reset
// Siempre 202, exista o no el email.
func (h *authHandlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	err := h.svc.RequestPasswordReset(r.Context(), auth.PasswordResetRequestInput{
		ApplicationID: appID(r),
		Email:         req.Email,
		Meta:          meta(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, StatusResponse{Status: "accepted"})
}

// POST /v1/apps/{applicationID}/password/reset/confirm
func (h *authHandlers) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirmRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	err := h.svc.ConfirmPasswordReset(r.Context(), auth.PasswordResetConfirmInput{
		ApplicationID: appID(r),
		Token:         req.Token,
		NewPassword:   req.NewPassword,
		Meta:          meta(r),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── TOTP (requiere access token) ───

// POST /v1/apps/{applicationID}/totp/enroll
func (h *authHandlers) enrollTOTP(w http.ResponseWriter, r *http.Request) {
	enr, err := h.svc.EnrollTOTP(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, TOTPEnrollResponse{
		Secret:      enr.Secret,
		OTPAuthURL:  enr.URL,
		BackupCodes: enr.BackupCodes,
	})
}

// POST /v1/apps/{applicationID}/totp/disable
func (h *authHandlers) disableTOTP(w http.ResponseWriter, r *http.Request) {
	var req TOTPDisableRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Code == "" {
		WriteError(w, r, apperrors.ErrBadRequest.WithDetail("code is required"))
		return
	}
	if err := h.svc.DisableTOTP(r.Context(), PrincipalFrom(r.Context()), req.Code); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/apps/{applicationID}/totp/backup-codes
func (h *authHandlers) backupCodes(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.BackupCodesRemaining(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, BackupCodesResponse{Remaining: n})
}
