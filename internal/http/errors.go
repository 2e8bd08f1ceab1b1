package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor mapea el Kind del core a un status HTTP.
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindExpired:
		return http.StatusGone
	case apperrors.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteError serializa cualquier error como {code, message, detail}.
// La causa (Err) solo va al log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperrors.From(err)
	status := StatusFor(ae.Kind)

	if status >= http.StatusInternalServerError {
		logger.From(r.Context()).Error("request failed",
			logger.Layer("http"), logger.String("code", ae.Code), logger.Err(err))
	}
	if errors.Is(ae, apperrors.ErrInvalidAccessToken) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:      ae.Code,
		Message:   ae.Message,
		Detail:    ae.Detail,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteJSON: respuesta JSON estándar
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodifica el body (máx 64KB). No falla por campos desconocidos.
// Un body vacío deja v en su zero value.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		return apperrors.ErrBadRequest.WithDetail("Content-Type must be application/json")
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return apperrors.ErrBadRequest.WithDetail("invalid json body")
	}
	return nil
}
