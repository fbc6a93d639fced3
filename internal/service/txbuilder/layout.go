package txbuilder

import (
	"fmt"

	"TeeRelay/pkg/config"
	"TeeRelay/pkg/sui"
)

// Layout names the on-chain packages and shared objects the relay's transactions call into.
type Layout struct {
	PMPackage    sui.Address
	VaultPackage sui.Address
	WorldPackage sui.Address

	// Witness is the PM type argument of pm::submit_bet.
	Witness sui.TypeTag
	// CoinType is the vault's settlement coin.
	CoinType sui.TypeTag

	Enclave     sui.ObjectArg
	Vault       sui.ObjectArg
	VaultLedger sui.ObjectArg
	World       sui.ObjectArg
}

// LayoutFromConfig resolves addresses and type tags from the chain section.
func LayoutFromConfig(cfg *config.Config) (Layout, error) {
	var (
		l   Layout
		err error
	)
	ch := cfg.Chain
	if l.PMPackage, err = sui.ParseAddress(ch.Packages.PM); err != nil {
		return Layout{}, fmt.Errorf("chain.packages.pm: %w", err)
	}
	if l.VaultPackage, err = sui.ParseAddress(ch.Packages.Vault); err != nil {
		return Layout{}, fmt.Errorf("chain.packages.vault: %w", err)
	}
	if l.WorldPackage, err = sui.ParseAddress(ch.Packages.World); err != nil {
		return Layout{}, fmt.Errorf("chain.packages.world: %w", err)
	}

	witness := ch.WitnessType
	if witness == "" {
		witness = ch.Packages.PM + "::pm::PM"
	}
	if l.Witness, err = sui.ParseTypeTag(witness); err != nil {
		return Layout{}, fmt.Errorf("chain.witness_type: %w", err)
	}
	if l.CoinType, err = sui.ParseTypeTag(ch.CoinType); err != nil {
		return Layout{}, fmt.Errorf("chain.coin_type: %w", err)
	}

	objs := []struct {
		name    string
		src     config.SharedObject
		dst     *sui.ObjectArg
		mutable bool
	}{
		{"enclave", ch.Objects.Enclave, &l.Enclave, false},
		{"vault", ch.Objects.Vault, &l.Vault, true},
		{"vault_ledger", ch.Objects.VaultLedger, &l.VaultLedger, true},
		{"world", ch.Objects.World, &l.World, true},
	}
	for _, o := range objs {
		id, err := sui.ParseAddress(o.src.ID)
		if err != nil {
			return Layout{}, fmt.Errorf("chain.objects.%s: %w", o.name, err)
		}
		*o.dst = sui.Shared(id, o.src.InitialVersion, o.mutable)
	}
	return l, nil
}
