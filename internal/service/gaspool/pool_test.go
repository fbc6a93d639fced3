package gaspool

import (
	"context"
	"errors"
	"testing"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/pkg/cache"
	"TeeRelay/pkg/sui"
)

type fixedCoins []models.Coin

func (f fixedCoins) GetCoins(context.Context, sui.Address, string, int) ([]models.Coin, error) {
	return f, nil
}

type downCoins struct{}

func (downCoins) GetCoins(context.Context, sui.Address, string, int) ([]models.Coin, error) {
	return nil, errors.New("connection refused")
}

func coin(id string, balance uint64) models.Coin {
	return models.Coin{Ref: sui.ObjectRef{ObjectID: sui.MustParseAddress(id), Version: 1}, Balance: balance}
}

func TestReserveHandsOutDistinctCoins(t *testing.T) {
	ctx := context.Background()
	owner := sui.MustParseAddress("0x5e")
	p := New(fixedCoins{coin("0x1", 10), coin("0x2", 500), coin("0x3", 900)}, cache.NewMemoryCache(), owner, 1000, 100)

	a, err := p.Reserve(ctx)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	b, err := p.Reserve(ctx)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if a.Payment[0].ObjectID == b.Payment[0].ObjectID {
		t.Fatalf("same coin reserved twice: %s", a.Payment[0].ObjectID)
	}
	if a.Owner != owner || a.Budget != 100 || a.Price != 1000 {
		t.Fatalf("unexpected plan %+v", a)
	}

	// the 10-unit coin does not cover the budget
	if _, err := p.Reserve(ctx); !errors.Is(err, relayerr.SponsorUnavailable) {
		t.Fatalf("expected SPONSOR_UNAVAILABLE, got %v", err)
	}

	p.Release(ctx, a)
	c, err := p.Reserve(ctx)
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if c.Payment[0].ObjectID != a.Payment[0].ObjectID {
		t.Fatalf("released coin not reused")
	}
}

func TestReserveLedgerDownIsNetworkError(t *testing.T) {
	p := New(downCoins{}, cache.NewMemoryCache(), sui.MustParseAddress("0x5e"), 1, 1)
	_, err := p.Reserve(context.Background())
	if !errors.Is(err, relayerr.NetworkError) {
		t.Fatalf("expected NETWORK_ERROR, got %v", err)
	}
}
