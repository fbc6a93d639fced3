package sui

import (
	"fmt"
	"strings"

	"TeeRelay/pkg/bcs"
)

// TypeTagKind mirrors the Move TypeTag enum variant order.
type TypeTagKind uint32

const (
	TypeBool TypeTagKind = iota
	TypeU8
	TypeU64
	TypeU128
	TypeAddress
	TypeSigner
	TypeVector
	TypeStruct
	TypeU16
	TypeU32
	TypeU256
)

var primitiveTags = map[string]TypeTagKind{
	"bool":    TypeBool,
	"u8":      TypeU8,
	"u16":     TypeU16,
	"u32":     TypeU32,
	"u64":     TypeU64,
	"u128":    TypeU128,
	"u256":    TypeU256,
	"address": TypeAddress,
	"signer":  TypeSigner,
}

type TypeTag struct {
	Kind   TypeTagKind
	Elem   *TypeTag
	Struct *StructTag
}

type StructTag struct {
	Address    Address
	Module     string
	Name       string
	TypeParams []TypeTag
}

// ParseTypeTag parses forms like "u64", "vector<u8>" and "0x2::coin::Coin<0x2::sui::SUI>".
func ParseTypeTag(s string) (TypeTag, error) {
	tag, rest, err := parseTypeTag(strings.TrimSpace(s))
	if err != nil {
		return TypeTag{}, err
	}
	if strings.TrimSpace(rest) != "" {
		return TypeTag{}, fmt.Errorf("sui: trailing input in type tag %q", s)
	}
	return tag, nil
}

func parseTypeTag(s string) (TypeTag, string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "vector<") {
		elem, rest, err := parseTypeTag(s[len("vector<"):])
		if err != nil {
			return TypeTag{}, "", err
		}
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, ">") {
			return TypeTag{}, "", fmt.Errorf("sui: unterminated vector in %q", s)
		}
		return TypeTag{Kind: TypeVector, Elem: &elem}, rest[1:], nil
	}

	end := strings.IndexAny(s, "<>,")
	if end < 0 {
		end = len(s)
	}
	head := strings.TrimSpace(s[:end])
	if kind, ok := primitiveTags[head]; ok {
		return TypeTag{Kind: kind}, s[end:], nil
	}

	parts := strings.Split(head, "::")
	if len(parts) != 3 {
		return TypeTag{}, "", fmt.Errorf("sui: invalid type tag %q", head)
	}
	addr, err := ParseAddress(parts[0])
	if err != nil {
		return TypeTag{}, "", err
	}
	st := &StructTag{Address: addr, Module: parts[1], Name: parts[2]}
	rest := s[end:]
	if strings.HasPrefix(rest, "<") {
		rest = rest[1:]
		for {
			param, r, err := parseTypeTag(rest)
			if err != nil {
				return TypeTag{}, "", err
			}
			st.TypeParams = append(st.TypeParams, param)
			r = strings.TrimSpace(r)
			if strings.HasPrefix(r, ",") {
				rest = r[1:]
				continue
			}
			if !strings.HasPrefix(r, ">") {
				return TypeTag{}, "", fmt.Errorf("sui: unterminated type params in %q", s)
			}
			rest = r[1:]
			break
		}
	}
	return TypeTag{Kind: TypeStruct, Struct: st}, rest, nil
}

func (t TypeTag) MarshalBCS(e *bcs.Encoder) {
	e.Variant(uint32(t.Kind))
	switch t.Kind {
	case TypeVector:
		t.Elem.MarshalBCS(e)
	case TypeStruct:
		e.Fixed(t.Struct.Address[:])
		e.String(t.Struct.Module)
		e.String(t.Struct.Name)
		e.ULEB128(uint64(len(t.Struct.TypeParams)))
		for _, p := range t.Struct.TypeParams {
			p.MarshalBCS(e)
		}
	}
}

func (t TypeTag) String() string {
	switch t.Kind {
	case TypeVector:
		return "vector<" + t.Elem.String() + ">"
	case TypeStruct:
		s := t.Struct.Address.String() + "::" + t.Struct.Module + "::" + t.Struct.Name
		if len(t.Struct.TypeParams) > 0 {
			params := make([]string, 0, len(t.Struct.TypeParams))
			for _, p := range t.Struct.TypeParams {
				params = append(params, p.String())
			}
			s += "<" + strings.Join(params, ", ") + ">"
		}
		return s
	}
	for name, kind := range primitiveTags {
		if kind == t.Kind {
			return name
		}
	}
	return fmt.Sprintf("typetag(%d)", t.Kind)
}

func decodeTypeTag(d *bcs.Decoder, depth int) (TypeTag, error) {
	if depth > 8 {
		return TypeTag{}, fmt.Errorf("sui: type tag nesting too deep")
	}
	v, err := d.Variant()
	if err != nil {
		return TypeTag{}, err
	}
	tag := TypeTag{Kind: TypeTagKind(v)}
	switch tag.Kind {
	case TypeBool, TypeU8, TypeU16, TypeU32, TypeU64, TypeU128, TypeU256, TypeAddress, TypeSigner:
		return tag, nil
	case TypeVector:
		elem, err := decodeTypeTag(d, depth+1)
		if err != nil {
			return TypeTag{}, err
		}
		tag.Elem = &elem
		return tag, nil
	case TypeStruct:
		st := &StructTag{}
		addr, err := d.Fixed(AddressLength)
		if err != nil {
			return TypeTag{}, err
		}
		copy(st.Address[:], addr)
		if st.Module, err = d.String(); err != nil {
			return TypeTag{}, err
		}
		if st.Name, err = d.String(); err != nil {
			return TypeTag{}, err
		}
		n, err := d.Len()
		if err != nil {
			return TypeTag{}, err
		}
		for i := 0; i < n; i++ {
			p, err := decodeTypeTag(d, depth+1)
			if err != nil {
				return TypeTag{}, err
			}
			st.TypeParams = append(st.TypeParams, p)
		}
		tag.Struct = st
		return tag, nil
	default:
		return TypeTag{}, fmt.Errorf("sui: unknown type tag variant %d", v)
	}
}
