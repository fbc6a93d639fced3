package api

import (
	"errors"
	"net/http"
	"time"

	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/service/attestation"
	"TeeRelay/internal/service/metrics"
	"TeeRelay/internal/usecase"
	xhttp "TeeRelay/pkg/http"
	xlogger "TeeRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

var statusOf = map[relayerr.Code]int{
	relayerr.CodeBadSignature:        http.StatusForbidden,
	relayerr.CodeUntrustedEnclave:    http.StatusForbidden,
	relayerr.CodeSignatureMismatch:   http.StatusForbidden,
	relayerr.CodeReplayedQuote:       http.StatusConflict,
	relayerr.CodeParameterMismatch:   http.StatusUnprocessableEntity,
	relayerr.CodeUpstreamUnavailable: http.StatusServiceUnavailable,
	relayerr.CodeSponsorUnavailable:  http.StatusServiceUnavailable,
	relayerr.CodeNetworkError:        http.StatusServiceUnavailable,
	relayerr.CodeTimeout:             http.StatusGatewayTimeout,
	relayerr.CodeUnauthorized:        http.StatusUnauthorized,
	relayerr.CodeSponsorDenied:       http.StatusForbidden,
	relayerr.CodeSubmissionRejected:  http.StatusUnprocessableEntity,
	relayerr.CodeUpstreamError:       http.StatusBadGateway,
}

// toAppError renders a use-case error for the envelope. Relay errors keep their code and
// carry class and retryable in params.
func toAppError(err error) *xhttp.AppError {
	var ie *usecase.InputError
	if errors.As(err, &ie) {
		return xhttp.FieldError(ie.Field, ie.Message).WithError(err)
	}
	var me *attestation.MeasurementError
	if errors.As(err, &me) {
		return xhttp.FieldError(me.Field, me.Reason).WithError(err)
	}
	if errors.Is(err, usecase.ErrRateLimited) {
		return xhttp.TooManyRequestsError(err.Error()).WithError(err)
	}
	if e, ok := relayerr.As(err); ok {
		status, known := statusOf[e.Code]
		if !known {
			status = http.StatusInternalServerError
		}
		out := xhttp.NewAppError(string(e.Code), "", e.Detail, status).
			WithParam("class", string(e.Class)).
			WithParam("retryable", e.Retryable()).
			WithError(err)
		for k, v := range e.Params {
			out.WithParam(k, v)
		}
		if f, ok := e.Params["field"].(string); ok {
			out.Field = f
		}
		return out
	}
	return xhttp.InternalError("internal error").WithError(err)
}

// failure logs err, counts it against endpoint and writes the envelope.
func failure(c echo.Context, l *xlogger.Logger, endpoint string, err error) error {
	appErr := toAppError(err)
	metrics.EndpointErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		l.Error(endpoint+" failed", xlogger.String("code", appErr.Code), xlogger.Error(err))
	} else {
		l.Warn(endpoint+" rejected", xlogger.String("code", appErr.Code), xlogger.String("detail", appErr.Message))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func observe(endpoint string, start time.Time) {
	metrics.EndpointLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// invalid counts a validation failure and writes the 400 list.
func invalid(c echo.Context, endpoint string, errs []xhttp.ValidationError) error {
	metrics.EndpointErrors.WithLabelValues(endpoint, "ERR_VALIDATION").Inc()
	return xhttp.BadRequestResponse(c, errs)
}
