// Package gaspool hands out the sponsor's gas coins, one per build, so two transactions in
// flight never pay with the same coin version.
package gaspool

import (
	"context"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/pkg/cache"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/sui"
)

const gasCoinType = "0x2::sui::SUI"

// CoinSource lists owned coins.
type CoinSource interface {
	GetCoins(ctx context.Context, owner sui.Address, coinType string, limit int) ([]models.Coin, error)
}

type Pool struct {
	coins   CoinSource
	locks   cache.Service
	owner   sui.Address
	price   uint64
	budget  uint64
	lockTTL time.Duration
	scan    int
	log     *logger.Logger
}

type Option func(*Pool)

func WithLockTTL(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.lockTTL = d
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Pool) { p.log = l }
}

func New(coins CoinSource, locks cache.Service, owner sui.Address, price, budget uint64, opts ...Option) *Pool {
	p := &Pool{
		coins:   coins,
		locks:   locks,
		owner:   owner,
		price:   price,
		budget:  budget,
		lockTTL: time.Minute,
		scan:    50,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) Owner() sui.Address {
	return p.owner
}

// Reserve locks one coin that covers the budget. The lock lives for the lock TTL; Release
// only when the build fails.
func (p *Pool) Reserve(ctx context.Context) (models.GasPlan, error) {
	coins, err := p.coins.GetCoins(ctx, p.owner, gasCoinType, p.scan)
	if err != nil {
		if _, ok := relayerr.As(err); ok {
			return models.GasPlan{}, err
		}
		return models.GasPlan{}, relayerr.Wrap(relayerr.CodeNetworkError, "list sponsor gas coins", err)
	}
	for _, c := range coins {
		if c.Balance < p.budget {
			continue
		}
		ok, err := p.locks.TryLock(ctx, lockKey(c.Ref.ObjectID), p.lockTTL)
		if err != nil {
			return models.GasPlan{}, relayerr.Wrap(relayerr.CodeSponsorUnavailable, "gas coin lock unavailable", err)
		}
		if !ok {
			continue
		}
		p.log.Debug("gas coin reserved", logger.String("coin", c.Ref.ObjectID.String()), logger.Uint64("version", c.Ref.Version))
		return models.GasPlan{
			Payment: []sui.ObjectRef{c.Ref},
			Owner:   p.owner,
			Price:   p.price,
			Budget:  p.budget,
		}, nil
	}
	p.log.Warn("no free gas coin", logger.Int("listed", len(coins)), logger.Uint64("budget", p.budget))
	return models.GasPlan{}, relayerr.Newf(relayerr.CodeSponsorUnavailable, "no free gas coin covering budget %d", p.budget)
}

// Release returns the plan's coins to the pool.
func (p *Pool) Release(ctx context.Context, plan models.GasPlan) {
	for _, ref := range plan.Payment {
		if err := p.locks.Unlock(ctx, lockKey(ref.ObjectID)); err != nil {
			p.log.Warn("release gas coin", logger.String("coin", ref.ObjectID.String()), logger.Error(err))
		}
	}
}

func lockKey(id sui.Address) string {
	return cache.Key("gas_coin", id)
}
