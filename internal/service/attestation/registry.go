// Package attestation holds the accepted enclave measurements and the enclave signing keys
// attested under them.
package attestation

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/domain/repository"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/nitro"

	"github.com/google/uuid"
)

// snapshot is replaced whole on every change; readers never lock.
type snapshot struct {
	current  models.AttestationRecord
	bindings map[string]models.EnclaveBinding // hex public key -> binding
}

// Registry is the single source of the current attestation record.
type Registry struct {
	state atomic.Pointer[snapshot]
	mu    sync.Mutex // serializes Rotate and RegisterEnclave

	auth      *Authorizer
	documents *nitro.Verifier
	store     repository.AttestationStore
	anchor    repository.Anchor
	events    repository.EventPublisher
	metrics   repository.Metrics
	log       *logger.Logger
	now       func() time.Time

	history []models.AttestationRecord // used when no store is configured

	// pending is a rotation that reached the chain but not the store
	pending *models.AttestationRecord
}

type Option func(*Registry)

func WithStore(s repository.AttestationStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithAnchor publishes every rotation on chain before it takes effect.
func WithAnchor(a repository.Anchor) Option {
	return func(r *Registry) { r.anchor = a }
}

// WithDocumentVerifier enables RegisterEnclave.
func WithDocumentVerifier(v *nitro.Verifier) Option {
	return func(r *Registry) { r.documents = v }
}

func WithEvents(p repository.EventPublisher) Option {
	return func(r *Registry) { r.events = p }
}

func WithMetrics(m repository.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry starts at version 1 with initial. Keys listed in trusted are bound to it
// directly; use that only for enclaves whose attestation was checked out of band.
func NewRegistry(initial models.PCRs, auth *Authorizer, trusted []ed25519.PublicKey, opts ...Option) *Registry {
	r := &Registry{auth: auth, log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}

	rec := models.AttestationRecord{Version: 1, PCRs: initial, ActivatedAt: r.now().UTC(), RotatedBy: "config"}
	snap := &snapshot{current: rec, bindings: make(map[string]models.EnclaveBinding, len(trusted))}
	for _, k := range trusted {
		b := models.EnclaveBinding{PublicKey: models.HexBytes(k), RecordVersion: 1, ModuleID: "config", RegisteredAt: rec.ActivatedAt}
		snap.bindings[b.PublicKey.String()] = b
	}
	r.state.Store(snap)
	r.history = []models.AttestationRecord{rec}
	if r.metrics != nil {
		r.metrics.SetAttestationVersion(rec.Version)
	}
	return r
}

// Restore adopts the newest stored record when it is newer than the configured one. Bindings
// are not persisted; enclaves re-register after a restart.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.History(ctx, 1)
	if err != nil {
		return fmt.Errorf("load attestation history: %w", err)
	}
	if len(recs) == 0 {
		return r.store.SaveRecord(ctx, r.Current())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	latest := recs[0]
	if latest.Version <= r.Current().Version {
		return nil
	}
	r.state.Store(&snapshot{current: latest, bindings: map[string]models.EnclaveBinding{}})
	if r.metrics != nil {
		r.metrics.SetAttestationVersion(latest.Version)
	}
	r.log.Info("attestation restored", logger.Uint64("version", latest.Version), logger.String("pcrs", latest.PCRs.Digest()))
	return nil
}

// Current returns the active record.
func (r *Registry) Current() models.AttestationRecord {
	return r.state.Load().current
}

// IsTrusted reports whether key was attested under the current record.
func (r *Registry) IsTrusted(key ed25519.PublicKey) bool {
	snap := r.state.Load()
	b, ok := snap.bindings[models.HexBytes(key).String()]
	return ok && b.RecordVersion == snap.current.Version
}

// TrustedKeys lists the keys bound to the current record.
func (r *Registry) TrustedKeys() []models.EnclaveBinding {
	snap := r.state.Load()
	out := make([]models.EnclaveBinding, 0, len(snap.bindings))
	for _, b := range snap.bindings {
		if b.RecordVersion == snap.current.Version {
			out = append(out, b)
		}
	}
	return out
}

// Rotate replaces the current record after the token is verified and, when an anchor is
// configured, the measurements are on chain. On any failure Current is unchanged.
func (r *Registry) Rotate(ctx context.Context, pcrs models.PCRs, token string) (*models.RotationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.Current()
	if r.auth == nil {
		return nil, relayerr.New(relayerr.CodeUnauthorized, "rotation is disabled")
	}
	if err := validPCRs(pcrs); err != nil {
		return nil, err
	}
	rotatedBy, err := r.auth.Authorize(ctx, token, pcrs, prev.Version)
	if err != nil {
		r.log.Warn("rotation refused", logger.Uint64("version", prev.Version), logger.Error(err))
		return nil, err
	}

	next := models.AttestationRecord{
		Version:     prev.Version + 1,
		PCRs:        pcrs,
		ActivatedAt: r.now().UTC(),
		RotatedBy:   rotatedBy,
	}
	if r.anchor != nil {
		if p := r.pending; p != nil && p.Version == next.Version && p.PCRs.Equal(pcrs) {
			next.AnchorDigest = p.AnchorDigest
			r.log.Info("reusing anchored measurements", logger.Uint64("version", next.Version), logger.String("anchor", p.AnchorDigest))
		} else {
			digest, err := r.anchor.AnchorPCRs(ctx, pcrs)
			if err != nil {
				return nil, fmt.Errorf("anchor measurements: %w", err)
			}
			next.AnchorDigest = digest
		}
	}
	if r.store != nil {
		if err := r.store.SaveRecord(ctx, next); err != nil {
			if next.AnchorDigest != "" {
				pending := next
				r.pending = &pending
				r.log.Error("anchored rotation not persisted",
					logger.Uint64("version", next.Version),
					logger.String("pcrs", pcrs.Digest()),
					logger.String("anchor", next.AnchorDigest),
					logger.Error(err),
				)
			}
			return nil, fmt.Errorf("persist attestation record: %w", err)
		}
	} else {
		r.history = append(r.history, next)
	}
	r.pending = nil

	// bindings from older versions stop counting; IsTrusted compares versions
	old := r.state.Load()
	r.state.Store(&snapshot{current: next, bindings: old.bindings})
	if r.metrics != nil {
		r.metrics.SetAttestationVersion(next.Version)
	}

	r.log.Info("attestation rotated",
		logger.Uint64("from", prev.Version),
		logger.Uint64("to", next.Version),
		logger.String("pcrs", pcrs.Digest()),
		logger.String("anchor", next.AnchorDigest),
	)
	r.publish(ctx, &models.RelayEvent{
		Type: models.EventAttestationRotated,
		Attributes: map[string]string{
			"version":    fmt.Sprint(next.Version),
			"pcrs":       pcrs.Digest(),
			"rotated_by": rotatedBy,
		},
		Digest: next.AnchorDigest,
	})

	return &models.RotationResult{Previous: prev, Current: next, AnchorDigest: next.AnchorDigest}, nil
}

// RegisterEnclave accepts a Nitro attestation document whose measurements equal the current
// record and binds the document's public key to that record.
func (r *Registry) RegisterEnclave(ctx context.Context, document []byte) (*models.EnclaveBinding, error) {
	if r.documents == nil {
		return nil, relayerr.New(relayerr.CodeUntrustedEnclave, "enclave registration is disabled")
	}
	doc, err := r.documents.Verify(document)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.CodeUntrustedEnclave, "attestation document rejected", err)
	}
	if len(doc.PublicKey) != ed25519.PublicKeySize {
		return nil, relayerr.Newf(relayerr.CodeUntrustedEnclave, "attested public key has %d bytes, want ed25519", len(doc.PublicKey))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.state.Load()
	cur := snap.current
	if !bytes.Equal(doc.PCR(0), cur.PCRs.PCR0) || !bytes.Equal(doc.PCR(1), cur.PCRs.PCR1) || !bytes.Equal(doc.PCR(2), cur.PCRs.PCR2) {
		return nil, relayerr.Newf(relayerr.CodeUntrustedEnclave, "enclave measurements do not match attestation version %d", cur.Version)
	}

	b := models.EnclaveBinding{
		PublicKey:     models.HexBytes(doc.PublicKey),
		RecordVersion: cur.Version,
		ModuleID:      doc.ModuleID,
		RegisteredAt:  r.now().UTC(),
	}
	bindings := make(map[string]models.EnclaveBinding, len(snap.bindings)+1)
	for k, v := range snap.bindings {
		if v.RecordVersion == cur.Version {
			bindings[k] = v
		}
	}
	bindings[b.PublicKey.String()] = b
	r.state.Store(&snapshot{current: cur, bindings: bindings})

	r.log.Info("enclave registered",
		logger.String("module", doc.ModuleID),
		logger.Hex("public_key", doc.PublicKey),
		logger.Uint64("version", cur.Version),
	)
	r.publish(ctx, &models.RelayEvent{
		Type: models.EventEnclaveRegistered,
		Attributes: map[string]string{
			"public_key": b.PublicKey.String(),
			"module_id":  doc.ModuleID,
			"version":    fmt.Sprint(cur.Version),
		},
	})
	return &b, nil
}

// History returns records newest first.
func (r *Registry) History(ctx context.Context, limit int) ([]models.AttestationRecord, error) {
	if r.store != nil {
		return r.store.History(ctx, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AttestationRecord, 0, len(r.history))
	for i := len(r.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.history[i])
	}
	return out, nil
}

func (r *Registry) publish(ctx context.Context, ev *models.RelayEvent) {
	if r.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.OccurredAt = r.now().UTC()
	if err := r.events.PublishEvent(ctx, ev); err != nil {
		r.log.Warn("publish attestation event", logger.String("type", string(ev.Type)), logger.Error(err))
	}
}

// MeasurementError is a malformed PCR value in a rotation request.
type MeasurementError struct {
	Field  string
	Reason string
}

func (e *MeasurementError) Error() string { return e.Field + ": " + e.Reason }

func validPCRs(p models.PCRs) error {
	for i, v := range [][]byte{p.PCR0, p.PCR1, p.PCR2} {
		if len(v) != 48 {
			return &MeasurementError{Field: fmt.Sprintf("pcr%d", i), Reason: fmt.Sprintf("has %d bytes, want 48", len(v))}
		}
	}
	return nil
}
