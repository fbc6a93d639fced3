package sponsor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/domain/repository"
	"TeeRelay/internal/service/txbuilder"
	xhttp "TeeRelay/pkg/http"
	"TeeRelay/pkg/logger"
)

// HeaderAccessKey carries the gas station credential.
const HeaderAccessKey = "X-Api-Key"

// GasStation delegates signing to a remote sponsorship service that owns the gas key.
type GasStation struct {
	url       string
	accessKey string
	client    *xhttp.Client
	log       *logger.Logger
	metrics   repository.Metrics
}

type GasStationOption func(*GasStation)

func WithGasStationLogger(l *logger.Logger) GasStationOption {
	return func(g *GasStation) { g.log = l }
}

func WithGasStationMetrics(m repository.Metrics) GasStationOption {
	return func(g *GasStation) { g.metrics = m }
}

func NewGasStation(url, accessKey string, client *xhttp.Client, opts ...GasStationOption) *GasStation {
	g := &GasStation{
		url:       strings.TrimRight(url, "/"),
		accessKey: accessKey,
		client:    client,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type signRequest struct {
	TxBytes string `json:"tx_bytes"`
	Digest  string `json:"digest"`
}

func (g *GasStation) SignSponsored(ctx context.Context, payload *txbuilder.Payload) (models.SponsorSignature, error) {
	if payload == nil {
		return models.SponsorSignature{}, relayerr.New(relayerr.CodeSponsorDenied, "no payload")
	}
	digest := payload.Digest().String()

	start := time.Now()
	var out models.SponsorSignature
	err := g.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     g.url + "/sign",
		Headers: map[string]string{HeaderAccessKey: g.accessKey},
		Body:    signRequest{TxBytes: payload.Base64(), Digest: digest},
	}, &out)
	if g.metrics != nil {
		g.metrics.RecordLatency("sponsor.sign", time.Since(start).Seconds())
	}
	if err != nil {
		return models.SponsorSignature{}, g.classify(err, digest)
	}
	if err := checkSponsorSignature(payload, out); err != nil {
		g.log.Error("gas station returned a bad signature", logger.String("digest", digest), logger.Error(err))
		return models.SponsorSignature{}, err
	}
	if out.Digest == "" {
		out.Digest = digest
	}
	g.log.Info("transaction sponsored", logger.String("digest", digest), logger.Duration("took", time.Since(start)))
	return out, nil
}

func (g *GasStation) classify(err error, digest string) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		g.log.Warn("gas station refused", logger.String("digest", digest), logger.Int("status", se.Status))
		if se.Status >= 500 {
			return relayerr.Wrap(relayerr.CodeSponsorUnavailable, "gas station failed", err).WithParam("status", se.Status)
		}
		switch se.Status {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return relayerr.Wrap(relayerr.CodeSponsorUnavailable, "gas station is busy", err).WithParam("status", se.Status)
		}
		return relayerr.Newf(relayerr.CodeSponsorDenied, "gas station refused: %s", string(se.Body)).WithParam("status", se.Status)
	}
	g.log.Warn("gas station unreachable", logger.String("digest", digest), logger.Error(err))
	return relayerr.Wrap(relayerr.CodeSponsorUnavailable, "gas station unreachable", err)
}
