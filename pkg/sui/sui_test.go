package sui

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTransaction() TransactionData {
	pkg := MustParseAddress("0xabc")
	ptb := NewPTB()
	world := ptb.Object(Shared(MustParseAddress("0x77"), 12, true))
	ptb.MoveCall(pkg, "world", "update_prob", nil, world, ptb.PureU64(3), ptb.PureU64Vec([]uint64{3000, 7000}))
	coin := ptb.Object(Owned(ObjectRef{ObjectID: MustParseAddress("0x55"), Version: 9, Digest: Digest{1, 2, 3}}))
	split := ptb.SplitCoin(coin, ptb.PureU64(50))
	coinType, _ := ParseTypeTag("0x2::sui::SUI")
	ptb.MoveCall(pkg, "vault", "deposit", []TypeTag{coinType}, ptb.Object(Shared(MustParseAddress("0x88"), 4, true)), split)

	return TransactionData{
		Kind:   ptb.Finish(),
		Sender: MustParseAddress("0x1"),
		Gas: GasData{
			Payment: []ObjectRef{{ObjectID: MustParseAddress("0x99"), Version: 1, Digest: Digest{9}}},
			Owner:   MustParseAddress("0x2"),
			Price:   1000,
			Budget:  50_000_000,
		},
	}
}

func TestParseAddressPadsShortForm(t *testing.T) {
	a, err := ParseAddress("0x2")
	require.NoError(t, err)
	require.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000002", a.String())

	_, err = ParseAddress("0xzz")
	require.Error(t, err)
}

func TestTransactionDataDecodesWhatItEncodes(t *testing.T) {
	tx := sampleTransaction()
	raw := tx.Bytes()

	decoded, err := DecodeTransactionData(raw)
	require.NoError(t, err)
	require.Equal(t, tx.Sender, decoded.Sender)
	require.Equal(t, tx.Gas.Owner, decoded.Gas.Owner)
	require.Len(t, decoded.Kind.Commands, 3)
	require.Equal(t, "update_prob", decoded.Kind.Commands[0].MoveCall.Function)
	require.True(t, bytes.Equal(raw, decoded.Bytes()), "re-encoding must be byte identical")

	_, err = DecodeTransactionData(append(raw, 0x00))
	require.Error(t, err)
}

func TestSharedObjectInputIsDeduplicated(t *testing.T) {
	ptb := NewPTB()
	id := MustParseAddress("0x5")
	a := ptb.Object(Shared(id, 1, false))
	b := ptb.Object(Shared(id, 1, true))
	require.Equal(t, a, b)

	pt := ptb.Finish()
	require.Len(t, pt.Inputs, 1)
	require.True(t, pt.Inputs[0].Object.Mutable)
}

func TestDigestIsStable(t *testing.T) {
	raw := sampleTransaction().Bytes()
	d1 := TransactionDigest(raw)
	d2 := TransactionDigest(sampleTransaction().Bytes())
	require.Equal(t, d1, d2)

	parsed, err := ParseDigest(d1.String())
	require.NoError(t, err)
	require.Equal(t, d1, parsed)
}

func TestSignatureVerifiesOnlyExactBytes(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	raw := sampleTransaction().Bytes()
	sig := SignTransaction(priv, raw)

	parsed, err := ParseSignature(sig.String())
	require.NoError(t, err)
	require.NoError(t, parsed.Verify(raw))
	require.Equal(t, AddressFromPublicKey(priv.Public().(ed25519.PublicKey)), parsed.Signer())

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-9] ^= 0x01
	require.ErrorIs(t, parsed.Verify(tampered), ErrInvalidSignature)
}

func TestParseTypeTag(t *testing.T) {
	tag, err := ParseTypeTag("0x2::coin::Coin<0x2::sui::SUI>")
	require.NoError(t, err)
	require.Equal(t, TypeStruct, tag.Kind)
	require.Len(t, tag.Struct.TypeParams, 1)
	require.Equal(t, "SUI", tag.Struct.TypeParams[0].Struct.Name)

	vec, err := ParseTypeTag("vector<u64>")
	require.NoError(t, err)
	require.Equal(t, TypeVector, vec.Kind)
	require.Equal(t, TypeU64, vec.Elem.Kind)

	_, err = ParseTypeTag("0x2::coin")
	require.Error(t, err)
}
