package insts

import (
	"bytes"
	"strings"
)

// Value is the set of types an instruction field can capture.
type Value interface {
	~uint8 | ~uint16 | ~uint32 | ~int8 | ~int16 | ~int32
}

// DiscriminatorByte is one position of a discriminator. Unknown positions
// match any byte.
type DiscriminatorByte struct {
	Value byte
	Known bool
}

// Discriminator is the byte pattern that identifies a decoded instruction.
// Bytes that only carry values (immediates, displacements) are unknown, so
// two instructions differing only in those bytes are the same instruction.
type Discriminator []DiscriminatorByte

// ExactDiscriminator builds a discriminator where every byte is known.
func ExactDiscriminator(raw []byte) Discriminator {
	d := make(Discriminator, len(raw))
	for i, b := range raw {
		d[i] = DiscriminatorByte{Value: b, Known: true}
	}
	return d
}

// WildcardDiscriminator builds a discriminator of n unknown bytes.
func WildcardDiscriminator(n int) Discriminator {
	return make(Discriminator, n)
}

// Len returns the number of bytes covered by the discriminator.
func (d Discriminator) Len() int {
	return len(d)
}

// MatchesByte reports whether b is acceptable at position i.
func (d Discriminator) MatchesByte(i int, b byte) bool {
	return !d[i].Known || d[i].Value == b
}

// Matches reports whether live satisfies the discriminator. live must be at
// least as long as d.
func (d Discriminator) Matches(live []byte) bool {
	if len(live) < len(d) {
		return false
	}
	for i := range d {
		if !d.MatchesByte(i, live[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether both discriminators have the same length, the same
// known positions and the same known values.
func (d Discriminator) Equal(other Discriminator) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i].Known != other[i].Known {
			return false
		}
		if d[i].Known && d[i].Value != other[i].Value {
			return false
		}
	}
	return true
}

// Key returns a string usable as a map key. Equal discriminators have equal
// keys.
func (d Discriminator) Key() string {
	return d.String()
}

// String renders known bytes in hex and unknown bytes as "??".
func (d Discriminator) String() string {
	var sb strings.Builder
	for i, b := range d {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if !b.Known {
			sb.WriteString("??")
			continue
		}
		sb.WriteByte(hexDigits[b.Value>>4])
		sb.WriteByte(hexDigits[b.Value&0xF])
	}
	return sb.String()
}

const hexDigits = "0123456789ABCDEF"

// FieldInfo is the type-independent view of a Field.
type FieldInfo interface {
	// Span returns the physical address and length of the field.
	Span() (physical uint32, length int)
	// Signature returns the discriminator bytes of the field.
	Signature() Discriminator
	// CapturedBytes returns the bytes seen when the field was decoded.
	CapturedBytes() []byte
	// IsValueField reports whether the field carries a value that does not
	// take part in identity.
	IsValueField() bool
	// Authoritative reports whether the captured value is still used.
	Authoritative() bool
	// SetUseValue marks the captured value as authoritative or not.
	SetUseValue(use bool)
}

// Field is one decoded operand or opcode byte run.
type Field[T Value] struct {
	// IndexInInstruction is the byte offset of the field in its instruction.
	IndexInInstruction int
	// Length is the number of bytes of the field.
	Length int
	// PhysicalAddress is where the first byte of the field lives.
	PhysicalAddress uint32
	// Value is the value captured at decode time.
	Value T
	// UseValue is true while Value still reflects memory. When false,
	// execution must re-read the field from PhysicalAddress.
	UseValue bool
	// DiscriminatorValue is the identity pattern of the field.
	DiscriminatorValue Discriminator

	captured []byte
}

// NewField creates a field from its captured bytes. Exact fields take part
// in instruction identity; value fields are wildcarded.
func NewField[T Value](index int, physical uint32, value T, captured []byte, exact bool) *Field[T] {
	raw := bytes.Clone(captured)

	discriminator := WildcardDiscriminator(len(raw))
	if exact {
		discriminator = ExactDiscriminator(raw)
	}

	return &Field[T]{
		IndexInInstruction: index,
		Length:             len(raw),
		PhysicalAddress:    physical,
		Value:              value,
		UseValue:           true,
		DiscriminatorValue: discriminator,
		captured:           raw,
	}
}

// Span returns the physical address and length of the field.
func (f *Field[T]) Span() (uint32, int) {
	return f.PhysicalAddress, f.Length
}

// Signature returns the discriminator bytes of the field.
func (f *Field[T]) Signature() Discriminator {
	return f.DiscriminatorValue
}

// CapturedBytes returns the bytes seen at decode time.
func (f *Field[T]) CapturedBytes() []byte {
	return f.captured
}

// IsValueField reports whether any byte of the field is wildcarded.
func (f *Field[T]) IsValueField() bool {
	for _, b := range f.DiscriminatorValue {
		if !b.Known {
			return true
		}
	}
	return false
}

// Authoritative reports whether Value is still used.
func (f *Field[T]) Authoritative() bool {
	return f.UseValue
}

// SetUseValue sets UseValue.
func (f *Field[T]) SetUseValue(use bool) {
	f.UseValue = use
}
