package api

import (
	"context"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/service/enclave"
	"TeeRelay/internal/service/metrics"
	xhttp "TeeRelay/pkg/http"
	xlogger "TeeRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

type RelayUsecase interface {
	TeeProxy(ctx context.Context, req *models.TeeProxyRequest) (*enclave.Response, error)
	BuildSponsoredTx(ctx context.Context, req *models.BuildSponsoredTxRequest) (*models.BuildSponsoredTxResponse, error)
	ExecuteSponsoredTx(ctx context.Context, req *models.ExecuteSponsoredTxRequest) (*models.ExecutionResult, error)
}

// RelayHandler serves the sponsored transaction endpoints.
type RelayHandler struct {
	logger *xlogger.Logger
	relay  RelayUsecase
}

func NewRelayHandler(logger *xlogger.Logger, relay RelayUsecase) *RelayHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &RelayHandler{logger: logger, relay: relay}
}

func (h *RelayHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/tee-proxy", h.TeeProxy)
	g.POST("/build-sponsored-tx", h.BuildSponsoredTx)
	g.POST("/execute-sponsored-tx", h.ExecuteSponsoredTx)
}

func (h *RelayHandler) TeeProxy(c echo.Context) error {
	const endpoint = "tee_proxy"
	defer observe(endpoint, time.Now())

	req := &models.TeeProxyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	res, err := h.relay.TeeProxy(c.Request().Context(), req)
	if err != nil {
		return failure(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, res.Body)
}

func (h *RelayHandler) BuildSponsoredTx(c echo.Context) error {
	const endpoint = "build_sponsored_tx"
	defer observe(endpoint, time.Now())

	req := &models.BuildSponsoredTxRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	res, err := h.relay.BuildSponsoredTx(c.Request().Context(), req)
	if err != nil {
		return failure(c, h.logger, endpoint, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, res)
}

func (h *RelayHandler) ExecuteSponsoredTx(c echo.Context) error {
	const endpoint = "execute_sponsored_tx"
	defer observe(endpoint, time.Now())

	req := &models.ExecuteSponsoredTxRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return invalid(c, endpoint, verr)
	}
	res, err := h.relay.ExecuteSponsoredTx(c.Request().Context(), req)
	if err != nil {
		return failure(c, h.logger, endpoint, err)
	}
	return xhttp.SuccessResponse(c, res)
}
