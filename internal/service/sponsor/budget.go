package sponsor

import (
	"context"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/service/txbuilder"
	"TeeRelay/pkg/cache"
)

// Budgeted caps how many transactions the wrapped signer sponsors per hour, counted in cache
// so every relay sharing the sponsor shares the cap.
type Budgeted struct {
	next    Signer
	cache   cache.Service
	perHour int64
	now     func() time.Time
}

func NewBudgeted(next Signer, c cache.Service, perHour int64) *Budgeted {
	return &Budgeted{next: next, cache: c, perHour: perHour, now: time.Now}
}

func (b *Budgeted) SignSponsored(ctx context.Context, payload *txbuilder.Payload) (models.SponsorSignature, error) {
	if b.perHour > 0 {
		bucket := b.now().UTC().Truncate(time.Hour).Unix()
		n, err := b.cache.Increment(ctx, cache.Key("sponsor_budget", payload.GasOwner(), bucket), time.Hour+time.Minute)
		if err != nil {
			return models.SponsorSignature{}, relayerr.Wrap(relayerr.CodeSponsorUnavailable, "sponsor budget unavailable", err)
		}
		if n > b.perHour {
			return models.SponsorSignature{}, relayerr.Newf(relayerr.CodeSponsorDenied, "hourly sponsorship budget of %d exhausted", b.perHour)
		}
	}
	return b.next.SignSponsored(ctx, payload)
}
