package sui

import (
	"TeeRelay/pkg/bcs"
)

// PTB accumulates inputs and commands for a programmable transaction. Object inputs are
// de-duplicated by id so a shared object referenced by several calls appears once.
type PTB struct {
	inputs   []CallArg
	commands []Command
	objects  map[Address]uint16
}

func NewPTB() *PTB {
	return &PTB{objects: make(map[Address]uint16)}
}

func (p *PTB) input(arg CallArg) Argument {
	p.inputs = append(p.inputs, arg)
	return Argument{Kind: ArgInput, Index: uint16(len(p.inputs) - 1)}
}

// Pure adds an already BCS-encoded value.
func (p *PTB) Pure(b []byte) Argument {
	return p.input(CallArg{Pure: b})
}

func (p *PTB) PureU8(v uint8) Argument {
	return p.Pure(bcs.NewEncoder().U8(v).Bytes())
}

func (p *PTB) PureU64(v uint64) Argument {
	return p.Pure(bcs.NewEncoder().U64(v).Bytes())
}

func (p *PTB) PureAddress(a Address) Argument {
	return p.Pure(bcs.NewEncoder().Fixed(a[:]).Bytes())
}

func (p *PTB) PureU64Vec(vs []uint64) Argument {
	return p.Pure(bcs.NewEncoder().U64Vec(vs).Bytes())
}

func (p *PTB) PureBytes(b []byte) Argument {
	return p.Pure(bcs.NewEncoder().ByteVec(b).Bytes())
}

// Object adds an object input, reusing a previous slot for the same id.
func (p *PTB) Object(arg ObjectArg) Argument {
	if idx, ok := p.objects[arg.Ref.ObjectID]; ok {
		prev := p.inputs[idx].Object
		if prev.Kind == SharedObject && arg.Kind == SharedObject && arg.Mutable {
			prev.Mutable = true
		}
		return Argument{Kind: ArgInput, Index: idx}
	}
	a := arg
	out := p.input(CallArg{Object: &a})
	p.objects[arg.Ref.ObjectID] = out.Index
	return out
}

func (p *PTB) command(c Command) uint16 {
	p.commands = append(p.commands, c)
	return uint16(len(p.commands) - 1)
}

// MoveCall appends a call and returns its result handle.
func (p *PTB) MoveCall(pkg Address, module, function string, typeArgs []TypeTag, args ...Argument) Argument {
	idx := p.command(Command{
		Kind: CmdMoveCall,
		MoveCall: &MoveCall{
			Package:       pkg,
			Module:        module,
			Function:      function,
			TypeArguments: typeArgs,
			Arguments:     args,
		},
	})
	return Argument{Kind: ArgResult, Index: idx}
}

// SplitCoin splits a single amount off coin and returns the new coin.
func (p *PTB) SplitCoin(coin, amount Argument) Argument {
	idx := p.command(Command{Kind: CmdSplitCoins, Coin: coin, Args: []Argument{amount}})
	return Argument{Kind: ArgNestedResult, Index: idx, Nested: 0}
}

func (p *PTB) MergeCoins(dst Argument, srcs ...Argument) {
	p.command(Command{Kind: CmdMergeCoins, Coin: dst, Args: srcs})
}

func (p *PTB) TransferObjects(recipient Argument, objs ...Argument) {
	p.command(Command{Kind: CmdTransferObjects, Coin: recipient, Args: objs})
}

func (p *PTB) Finish() ProgrammableTransaction {
	return ProgrammableTransaction{Inputs: p.inputs, Commands: p.commands}
}
