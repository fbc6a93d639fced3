package sui

import (
	"fmt"

	"TeeRelay/pkg/bcs"

	"golang.org/x/crypto/blake2b"
)

// ObjectRef pins an owned object at a version.
type ObjectRef struct {
	ObjectID Address
	Version  uint64
	Digest   Digest
}

func (r ObjectRef) MarshalBCS(e *bcs.Encoder) {
	e.Fixed(r.ObjectID[:])
	e.U64(r.Version)
	e.ByteVec(r.Digest[:])
}

type ObjectArgKind uint32

const (
	ImmOrOwnedObject ObjectArgKind = iota
	SharedObject
	ReceivingObject
)

type ObjectArg struct {
	Kind                 ObjectArgKind
	Ref                  ObjectRef // ImmOrOwned and Receiving
	InitialSharedVersion uint64    // Shared
	Mutable              bool      // Shared
}

// Shared builds a shared object argument.
func Shared(id Address, initialVersion uint64, mutable bool) ObjectArg {
	return ObjectArg{Kind: SharedObject, Ref: ObjectRef{ObjectID: id}, InitialSharedVersion: initialVersion, Mutable: mutable}
}

// Owned builds an owned or immutable object argument.
func Owned(ref ObjectRef) ObjectArg {
	return ObjectArg{Kind: ImmOrOwnedObject, Ref: ref}
}

func (o ObjectArg) MarshalBCS(e *bcs.Encoder) {
	e.Variant(uint32(o.Kind))
	switch o.Kind {
	case SharedObject:
		e.Fixed(o.Ref.ObjectID[:])
		e.U64(o.InitialSharedVersion)
		e.Bool(o.Mutable)
	default:
		o.Ref.MarshalBCS(e)
	}
}

// CallArg is either pure BCS bytes or an object reference.
type CallArg struct {
	Pure   []byte
	Object *ObjectArg
}

func (c CallArg) MarshalBCS(e *bcs.Encoder) {
	if c.Object != nil {
		e.Variant(1)
		c.Object.MarshalBCS(e)
		return
	}
	e.Variant(0)
	e.ByteVec(c.Pure)
}

type ArgumentKind uint32

const (
	ArgGasCoin ArgumentKind = iota
	ArgInput
	ArgResult
	ArgNestedResult
)

type Argument struct {
	Kind   ArgumentKind
	Index  uint16
	Nested uint16
}

func (a Argument) MarshalBCS(e *bcs.Encoder) {
	e.Variant(uint32(a.Kind))
	switch a.Kind {
	case ArgInput, ArgResult:
		e.U16(a.Index)
	case ArgNestedResult:
		e.U16(a.Index)
		e.U16(a.Nested)
	}
}

type MoveCall struct {
	Package       Address
	Module        string
	Function      string
	TypeArguments []TypeTag
	Arguments     []Argument
}

func (m MoveCall) MarshalBCS(e *bcs.Encoder) {
	e.Fixed(m.Package[:])
	e.String(m.Module)
	e.String(m.Function)
	e.ULEB128(uint64(len(m.TypeArguments)))
	for _, t := range m.TypeArguments {
		t.MarshalBCS(e)
	}
	marshalArgs(e, m.Arguments)
}

// Target renders package::module::function.
func (m MoveCall) Target() string {
	return m.Package.String() + "::" + m.Module + "::" + m.Function
}

type CommandKind uint32

const (
	CmdMoveCall CommandKind = iota
	CmdTransferObjects
	CmdSplitCoins
	CmdMergeCoins
)

// Command covers the programmable transaction commands the relay produces.
type Command struct {
	Kind     CommandKind
	MoveCall *MoveCall
	Coin     Argument   // split source, merge destination, transfer recipient
	Args     []Argument // split amounts, merge sources, transferred objects
}

func (c Command) MarshalBCS(e *bcs.Encoder) {
	e.Variant(uint32(c.Kind))
	switch c.Kind {
	case CmdMoveCall:
		c.MoveCall.MarshalBCS(e)
	case CmdTransferObjects:
		marshalArgs(e, c.Args)
		c.Coin.MarshalBCS(e)
	case CmdSplitCoins, CmdMergeCoins:
		c.Coin.MarshalBCS(e)
		marshalArgs(e, c.Args)
	}
}

type ProgrammableTransaction struct {
	Inputs   []CallArg
	Commands []Command
}

func (p ProgrammableTransaction) MarshalBCS(e *bcs.Encoder) {
	e.ULEB128(uint64(len(p.Inputs)))
	for _, in := range p.Inputs {
		in.MarshalBCS(e)
	}
	e.ULEB128(uint64(len(p.Commands)))
	for _, c := range p.Commands {
		c.MarshalBCS(e)
	}
}

type GasData struct {
	Payment []ObjectRef
	Owner   Address
	Price   uint64
	Budget  uint64
}

func (g GasData) MarshalBCS(e *bcs.Encoder) {
	e.ULEB128(uint64(len(g.Payment)))
	for _, r := range g.Payment {
		r.MarshalBCS(e)
	}
	e.Fixed(g.Owner[:])
	e.U64(g.Price)
	e.U64(g.Budget)
}

// TransactionData is the V1 programmable-transaction form. Expiration is an epoch, zero
// meaning none.
type TransactionData struct {
	Kind       ProgrammableTransaction
	Sender     Address
	Gas        GasData
	Expiration uint64
}

func (t TransactionData) MarshalBCS(e *bcs.Encoder) {
	e.Variant(0) // V1
	e.Variant(0) // ProgrammableTransaction
	t.Kind.MarshalBCS(e)
	e.Fixed(t.Sender[:])
	t.Gas.MarshalBCS(e)
	if t.Expiration == 0 {
		e.Variant(0)
		return
	}
	e.Variant(1)
	e.U64(t.Expiration)
}

// Bytes returns the canonical encoding signed by every party.
func (t TransactionData) Bytes() []byte {
	return bcs.Marshal(t)
}

// TransactionDigest is the ledger identifier of the encoded transaction.
func TransactionDigest(txBytes []byte) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("TransactionData::"))
	h.Write(txBytes)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// SigningDigest is the 32-byte message both signers sign: intent prefix + transaction bytes.
func SigningDigest(txBytes []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{0, 0, 0}) // TransactionData scope, V0, Sui app
	h.Write(txBytes)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func marshalArgs(e *bcs.Encoder, args []Argument) {
	e.ULEB128(uint64(len(args)))
	for _, a := range args {
		a.MarshalBCS(e)
	}
}

// DecodeTransactionData parses bytes produced by TransactionData.Bytes. Commands the relay
// never emits are rejected.
func DecodeTransactionData(b []byte) (*TransactionData, error) {
	d := bcs.NewDecoder(b)
	version, err := d.Variant()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("sui: unsupported transaction data version %d", version)
	}
	kind, err := d.Variant()
	if err != nil {
		return nil, err
	}
	if kind != 0 {
		return nil, fmt.Errorf("sui: unsupported transaction kind %d", kind)
	}

	tx := &TransactionData{}
	if tx.Kind, err = decodeProgrammable(d); err != nil {
		return nil, err
	}
	if err := decodeFixedInto(d, tx.Sender[:]); err != nil {
		return nil, err
	}
	if tx.Gas, err = decodeGas(d); err != nil {
		return nil, err
	}
	exp, err := d.Variant()
	if err != nil {
		return nil, err
	}
	switch exp {
	case 0:
	case 1:
		if tx.Expiration, err = d.U64(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("sui: unknown expiration variant %d", exp)
	}
	if err := d.Done(); err != nil {
		return nil, err
	}
	return tx, nil
}

func decodeProgrammable(d *bcs.Decoder) (ProgrammableTransaction, error) {
	var p ProgrammableTransaction
	n, err := d.Len()
	if err != nil {
		return p, err
	}
	for i := 0; i < n; i++ {
		arg, err := decodeCallArg(d)
		if err != nil {
			return p, fmt.Errorf("input %d: %w", i, err)
		}
		p.Inputs = append(p.Inputs, arg)
	}
	if n, err = d.Len(); err != nil {
		return p, err
	}
	for i := 0; i < n; i++ {
		cmd, err := decodeCommand(d)
		if err != nil {
			return p, fmt.Errorf("command %d: %w", i, err)
		}
		p.Commands = append(p.Commands, cmd)
	}
	return p, nil
}

func decodeCallArg(d *bcs.Decoder) (CallArg, error) {
	v, err := d.Variant()
	if err != nil {
		return CallArg{}, err
	}
	switch v {
	case 0:
		pure, err := d.ByteVec()
		return CallArg{Pure: pure}, err
	case 1:
		obj, err := decodeObjectArg(d)
		if err != nil {
			return CallArg{}, err
		}
		return CallArg{Object: &obj}, nil
	default:
		return CallArg{}, fmt.Errorf("sui: unknown call arg variant %d", v)
	}
}

func decodeObjectArg(d *bcs.Decoder) (ObjectArg, error) {
	v, err := d.Variant()
	if err != nil {
		return ObjectArg{}, err
	}
	o := ObjectArg{Kind: ObjectArgKind(v)}
	switch o.Kind {
	case SharedObject:
		if err := decodeFixedInto(d, o.Ref.ObjectID[:]); err != nil {
			return o, err
		}
		if o.InitialSharedVersion, err = d.U64(); err != nil {
			return o, err
		}
		o.Mutable, err = d.Bool()
		return o, err
	case ImmOrOwnedObject, ReceivingObject:
		o.Ref, err = decodeObjectRef(d)
		return o, err
	default:
		return o, fmt.Errorf("sui: unknown object arg variant %d", v)
	}
}

func decodeObjectRef(d *bcs.Decoder) (ObjectRef, error) {
	var r ObjectRef
	if err := decodeFixedInto(d, r.ObjectID[:]); err != nil {
		return r, err
	}
	var err error
	if r.Version, err = d.U64(); err != nil {
		return r, err
	}
	digest, err := d.ByteVec()
	if err != nil {
		return r, err
	}
	if len(digest) != DigestLength {
		return r, fmt.Errorf("sui: object digest has %d bytes", len(digest))
	}
	copy(r.Digest[:], digest)
	return r, nil
}

func decodeCommand(d *bcs.Decoder) (Command, error) {
	v, err := d.Variant()
	if err != nil {
		return Command{}, err
	}
	c := Command{Kind: CommandKind(v)}
	switch c.Kind {
	case CmdMoveCall:
		m := &MoveCall{}
		if err := decodeFixedInto(d, m.Package[:]); err != nil {
			return c, err
		}
		if m.Module, err = d.String(); err != nil {
			return c, err
		}
		if m.Function, err = d.String(); err != nil {
			return c, err
		}
		n, err := d.Len()
		if err != nil {
			return c, err
		}
		for i := 0; i < n; i++ {
			t, err := decodeTypeTag(d, 0)
			if err != nil {
				return c, err
			}
			m.TypeArguments = append(m.TypeArguments, t)
		}
		if m.Arguments, err = decodeArgs(d); err != nil {
			return c, err
		}
		c.MoveCall = m
	case CmdTransferObjects:
		if c.Args, err = decodeArgs(d); err != nil {
			return c, err
		}
		c.Coin, err = decodeArgument(d)
	case CmdSplitCoins, CmdMergeCoins:
		if c.Coin, err = decodeArgument(d); err != nil {
			return c, err
		}
		c.Args, err = decodeArgs(d)
	default:
		return c, fmt.Errorf("sui: unsupported command variant %d", v)
	}
	return c, err
}

func decodeArgs(d *bcs.Decoder) ([]Argument, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}
	out := make([]Argument, 0, n)
	for i := 0; i < n; i++ {
		a, err := decodeArgument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func decodeArgument(d *bcs.Decoder) (Argument, error) {
	v, err := d.Variant()
	if err != nil {
		return Argument{}, err
	}
	a := Argument{Kind: ArgumentKind(v)}
	switch a.Kind {
	case ArgGasCoin:
	case ArgInput, ArgResult:
		a.Index, err = d.U16()
	case ArgNestedResult:
		if a.Index, err = d.U16(); err != nil {
			return a, err
		}
		a.Nested, err = d.U16()
	default:
		return a, fmt.Errorf("sui: unknown argument variant %d", v)
	}
	return a, err
}

func decodeGas(d *bcs.Decoder) (GasData, error) {
	var g GasData
	n, err := d.Len()
	if err != nil {
		return g, err
	}
	for i := 0; i < n; i++ {
		r, err := decodeObjectRef(d)
		if err != nil {
			return g, err
		}
		g.Payment = append(g.Payment, r)
	}
	if err := decodeFixedInto(d, g.Owner[:]); err != nil {
		return g, err
	}
	if g.Price, err = d.U64(); err != nil {
		return g, err
	}
	g.Budget, err = d.U64()
	return g, err
}

func decodeFixedInto(d *bcs.Decoder, dst []byte) error {
	b, err := d.Fixed(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}
