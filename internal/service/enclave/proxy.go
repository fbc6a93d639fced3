// Package enclave is the relay's only egress to the pricing enclave. It forwards requests
// and hands back exactly what the enclave said; it makes no trust decisions.
package enclave

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/domain/repository"
	xhttp "TeeRelay/pkg/http"
	"TeeRelay/pkg/logger"
)

// Endpoint names an enclave operation.
type Endpoint string

const (
	EndpointProcessData    Endpoint = "process_data"
	EndpointResolve        Endpoint = "resolve"
	EndpointHealthCheck    Endpoint = "health_check"
	EndpointGetAttestation Endpoint = "get_attestation"
	EndpointPositions      Endpoint = "positions"
)

// IsRead reports whether the endpoint is a bodiless GET.
func (e Endpoint) IsRead() bool {
	switch e {
	case EndpointHealthCheck, EndpointGetAttestation, EndpointPositions:
		return true
	}
	return false
}

// Response is the enclave's reply. Body is the enclave JSON untouched, or {"raw": text} when
// the enclave answered with something that is not JSON.
type Response struct {
	Status int
	Body   json.RawMessage
}

// Proxy forwards named operations to the enclave.
type Proxy struct {
	baseURL string
	client  *xhttp.Client
	log     *logger.Logger
	metrics repository.Metrics
}

type Option func(*Proxy)

func WithLogger(l *logger.Logger) Option {
	return func(p *Proxy) { p.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// NewProxy wraps client, which carries the egress timeout and rate limit.
func NewProxy(baseURL string, client *xhttp.Client, opts ...Option) *Proxy {
	p := &Proxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Forward calls endpoint. Read endpoints are GETs (positions takes ?pool_id=); everything
// else is POSTed as {"payload": payload}.
func (p *Proxy) Forward(ctx context.Context, endpoint Endpoint, payload json.RawMessage, poolID *uint64) (*Response, error) {
	if endpoint == "" {
		endpoint = EndpointProcessData
	}
	req := &xhttp.RequestOptions{URL: p.baseURL + "/" + string(endpoint)}
	if endpoint.IsRead() {
		req.Method = xhttp.MethodGet
		if endpoint == EndpointPositions && poolID != nil {
			req.QueryParams = map[string][]string{"pool_id": {strconv.FormatUint(*poolID, 10)}}
		}
	} else {
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		req.Method = xhttp.MethodPost
		req.Body = map[string]json.RawMessage{"payload": payload}
	}

	start := time.Now()
	status, body, err := p.client.Send(ctx, req)
	took := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordLatency("enclave."+string(endpoint), took.Seconds())
	}

	if err != nil {
		p.log.Warn("enclave unreachable",
			logger.String("endpoint", string(endpoint)),
			logger.Duration("took", took),
			logger.Error(err),
		)
		return nil, relayerr.Wrap(relayerr.CodeUpstreamUnavailable, unreachableDetail(err), err).
			WithParam("endpoint", string(endpoint))
	}

	p.log.Info("enclave call",
		logger.String("endpoint", string(endpoint)),
		logger.Int("status", status),
		logger.Int("bytes", len(body)),
		logger.Duration("took", took),
	)

	if status < 200 || status >= 300 {
		return nil, relayerr.Newf(relayerr.CodeUpstreamError, "enclave returned %d: %s", status, string(body)).
			WithParam("endpoint", string(endpoint)).
			WithParam("status", status)
	}
	return &Response{Status: status, Body: normalizeBody(body)}, nil
}

// Health is a convenience for readiness probes.
func (p *Proxy) Health(ctx context.Context) error {
	_, err := p.Forward(ctx, EndpointHealthCheck, nil, nil)
	return err
}

func normalizeBody(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
	return wrapped
}

func unreachableDetail(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return "enclave did not answer in time"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "enclave unreachable"
	}
}
