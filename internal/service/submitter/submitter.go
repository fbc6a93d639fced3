// Package submitter hands dual-signed transactions to the ledger and waits for finality.
package submitter

import (
	"context"
	"errors"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/domain/repository"
	"TeeRelay/internal/service/ledger"
	"TeeRelay/pkg/cache"
	"TeeRelay/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const statusSuccess = "success"

type Submitter struct {
	ledger    repository.Ledger
	results   cache.Service
	resultTTL time.Duration
	timeout   time.Duration
	confirm   repository.ConfirmationQueue
	inflight  singleflight.Group
	log       *logger.Logger
	metrics   repository.Metrics
}

type Option func(*Submitter)

// WithResultCache answers resubmissions of a known digest from c instead of the ledger.
func WithResultCache(c cache.Service, ttl time.Duration) Option {
	return func(s *Submitter) {
		s.results = c
		s.resultTTL = ttl
	}
}

// WithTimeout bounds one shared submission. Callers that join it may give up sooner; the
// submission itself keeps going for everyone else.
func WithTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithConfirmations schedules a later finality check when waiting times out.
func WithConfirmations(q repository.ConfirmationQueue) Option {
	return func(s *Submitter) { s.confirm = q }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Submitter) { s.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

func New(l repository.Ledger, opts ...Option) *Submitter {
	s := &Submitter{ledger: l, resultTTL: 24 * time.Hour, timeout: time.Minute, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit executes payload with bundle. The relay never retries on its own: a TIMEOUT or
// NETWORK_ERROR goes back to the caller, who may resubmit the same bytes.
func (s *Submitter) Submit(ctx context.Context, payload models.TransactionPayload, bundle models.SignatureBundle) (*models.ExecutionResult, error) {
	digest := payload.Digest().String()
	start := time.Now()

	ch := s.inflight.DoChan(digest, func() (interface{}, error) {
		// not tied to whichever caller arrived first
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.submit(sctx, digest, payload, bundle)
	})

	var (
		v      interface{}
		err    error
		shared bool
	)
	select {
	case r := <-ch:
		v, err, shared = r.Val, r.Err, r.Shared
	case <-ctx.Done():
		err = relayerr.Wrap(relayerr.CodeTimeout, "gave up waiting for submission", ctx.Err()).
			WithParam("digest", digest)
	}
	if s.metrics != nil {
		code := "OK"
		if err != nil {
			code = string(relayerr.CodeOf(err))
		}
		s.metrics.RecordOutcome("submit", code)
		s.metrics.RecordLatency("submit", time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debug("joined in-flight submission", logger.String("digest", digest))
	}
	return v.(*models.ExecutionResult), nil
}

func (s *Submitter) submit(ctx context.Context, digest string, payload models.TransactionPayload, bundle models.SignatureBundle) (*models.ExecutionResult, error) {
	if res, ok := s.cached(ctx, digest); ok {
		s.log.Info("resubmission answered from cache", logger.String("digest", digest))
		return outcome(res)
	}

	res, err := s.ledger.Execute(ctx, payload.Bytes(), bundle.Encoded())
	if err != nil {
		if errors.Is(err, relayerr.Timeout) {
			s.scheduleConfirmation(digest)
		}
		s.log.Warn("submission failed", logger.String("digest", digest), logger.Error(err))
		return nil, err
	}
	if res.Digest == "" {
		res.Digest = digest
	}

	if res.Status == "" {
		res, err = s.ledger.WaitForTransaction(ctx, digest)
		if err != nil {
			if errors.Is(err, relayerr.Timeout) {
				s.scheduleConfirmation(digest)
			}
			return nil, err
		}
	}

	s.store(ctx, res)
	s.log.Info("transaction executed",
		logger.String("digest", res.Digest),
		logger.String("status", res.Status),
		logger.String("sender", payload.Sender().String()),
	)
	return outcome(res)
}

// Record caches a result observed outside Submit, e.g. by a confirmation job.
func (s *Submitter) Record(ctx context.Context, res *models.ExecutionResult) {
	s.store(ctx, res)
}

func (s *Submitter) cached(ctx context.Context, digest string) (*models.ExecutionResult, bool) {
	if s.results == nil {
		return nil, false
	}
	res, err := cache.GetTyped[models.ExecutionResult](ctx, s.results, resultKey(digest))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("result cache read", logger.String("digest", digest), logger.Error(err))
		}
		return nil, false
	}
	return &res, true
}

func (s *Submitter) store(ctx context.Context, res *models.ExecutionResult) {
	if s.results == nil || res == nil || res.Status == "" {
		return
	}
	if err := s.results.Set(ctx, resultKey(res.Digest), res, s.resultTTL); err != nil {
		s.log.Warn("result cache write", logger.String("digest", res.Digest), logger.Error(err))
	}
}

func (s *Submitter) scheduleConfirmation(digest string) {
	if s.confirm == nil {
		return
	}
	// the request context may already be done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.confirm.EnqueueConfirmation(ctx, digest); err != nil {
		s.log.Error("enqueue confirmation", logger.String("digest", digest), logger.Error(err))
	}
}

// outcome turns an executed-but-aborted transaction into SUBMISSION_REJECTED with the
// ledger's reason.
func outcome(res *models.ExecutionResult) (*models.ExecutionResult, error) {
	if res.Status != statusSuccess {
		reason := ledger.FailureReason(res)
		if reason == "" {
			reason = "transaction status " + res.Status
		}
		return nil, relayerr.New(relayerr.CodeSubmissionRejected, reason).WithParam("digest", res.Digest)
	}
	return res, nil
}

func resultKey(digest string) string {
	return cache.Key("tx_result", digest)
}
