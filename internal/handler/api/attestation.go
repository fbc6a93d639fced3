package api

import (
	"context"
	"encoding/base64"
	"time"

	"TeeRelay/internal/domain/models"
	domrepo "TeeRelay/internal/domain/repository"
	"TeeRelay/internal/service/metrics"
	xhttp "TeeRelay/pkg/http"
	xlogger "TeeRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

type AttestationRegistry interface {
	Current() models.AttestationRecord
	History(ctx context.Context, limit int) ([]models.AttestationRecord, error)
	Rotate(ctx context.Context, pcrs models.PCRs, token string) (*models.RotationResult, error)
	RegisterEnclave(ctx context.Context, document []byte) (*models.EnclaveBinding, error)
	TrustedKeys() []models.EnclaveBinding
}

// AttestationHandler exposes the trusted measurements and their rotation. Audit queries are
// served when an audit store is configured.
type AttestationHandler struct {
	logger   *xlogger.Logger
	registry AttestationRegistry
	audit    domrepo.AuditStorage
}

func NewAttestationHandler(logger *xlogger.Logger, registry AttestationRegistry, audit domrepo.AuditStorage) *AttestationHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &AttestationHandler{logger: logger, registry: registry, audit: audit}
}

func (h *AttestationHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/attestation")
	g.GET("", h.Current)
	g.GET("/history", h.History)
	g.POST("/rotate", h.Rotate)
	g.GET("/enclaves", h.Enclaves)
	g.POST("/enclaves", h.RegisterEnclave)

	if h.audit != nil {
		e.GET("/api/events", h.Events)
	}
}

func (h *AttestationHandler) Current(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.registry.Current())
}

func (h *AttestationHandler) History(c echo.Context) error {
	const endpoint = "attestation_history"
	defer observe(endpoint, time.Now())

	req := &models.AttestationHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	recs, err := h.registry.History(c.Request().Context(), req.Limit)
	if err != nil {
		return failure(c, h.logger, endpoint, err)
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

func (h *AttestationHandler) Rotate(c echo.Context) error {
	const endpoint = "attestation_rotate"
	defer observe(endpoint, time.Now())

	req := &models.RotateAttestationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	var pcrs models.PCRs
	for _, f := range []struct {
		name string
		src  string
		dst  *models.HexBytes
	}{{"pcr0", req.PCR0, &pcrs.PCR0}, {"pcr1", req.PCR1, &pcrs.PCR1}, {"pcr2", req.PCR2, &pcrs.PCR2}} {
		if err := f.dst.UnmarshalText([]byte(f.src)); err != nil {
			return xhttp.AppErrorResponse(c, xhttp.FieldError(f.name, "must be hex"))
		}
	}

	res, err := h.registry.Rotate(c.Request().Context(), pcrs, req.Authorization)
	if err != nil {
		return failure(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AttestationHandler) Enclaves(c echo.Context) error {
	keys := h.registry.TrustedKeys()
	return xhttp.ListResponse(c, keys, int64(len(keys)))
}

func (h *AttestationHandler) RegisterEnclave(c echo.Context) error {
	const endpoint = "register_enclave"
	defer observe(endpoint, time.Now())

	req := &models.RegisterEnclaveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	doc, err := base64.StdEncoding.DecodeString(req.Document)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.FieldError("document", "must be base64"))
	}
	b, err := h.registry.RegisterEnclave(c.Request().Context(), doc)
	if err != nil {
		return failure(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, b)
}

func (h *AttestationHandler) Events(c echo.Context) error {
	const endpoint = "events"
	defer observe(endpoint, time.Now())

	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	evs, err := h.audit.Query(c.Request().Context(), req.Digest, req.Limit)
	if err != nil {
		return failure(c, h.logger, endpoint, err)
	}
	return xhttp.ListResponse(c, evs, int64(len(evs)))
}
