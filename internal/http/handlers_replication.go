package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	"github.com/dropDatabas3/authcore/internal/validation"
)

// ReplicaWriter aplica los eventos del servicio de configuración.
type ReplicaWriter interface {
	ApplyUpsert(ctx context.Context, app repository.Application) error
	ApplyDelete(ctx context.Context, applicationID string) error
}

type replicationHandlers struct {
	apps ReplicaWriter
}

// PUT /internal/replication/applications/{applicationID}
func (h *replicationHandlers) upsert(w http.ResponseWriter, r *http.Request) {
	if !validation.ValidApplicationID(appID(r)) {
		WriteError(w, r, apperrors.ErrInvalidConfig.WithDetail("invalid application id"))
		return
	}
	var req ApplicationRequest
	if err := ReadJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	app := repository.Application{
		ID:           appID(r),
		DomainName:   req.DomainName,
		BasicAuth:    repository.DefaultBasicAuthConfig(),
		Verification: req.Verification,
	}
	if req.BasicAuth != nil {
		app.BasicAuth = *req.BasicAuth
	}
	if app.Verification.Mode == "" {
		app.Verification.Mode = repository.VerificationNone
	}

	if err := h.apps.ApplyUpsert(r.Context(), app); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /internal/replication/applications/{applicationID}
// Idempotente: borrar una app inexistente también es 204.
func (h *replicationHandlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.apps.ApplyDelete(r.Context(), appID(r)); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Health ───

// Pinger es lo mínimo que necesita /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

func readyz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logger.From(r.Context()).Warn("readyz: store ping failed", logger.Err(err))
			WriteJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "unavailable"})
			return
		}
		WriteJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
	}
}
