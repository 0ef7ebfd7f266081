// Package patch implements the binary patchers applied to extracted payload buffers
// and the decoding of their stage configuration files.
package patch

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/hansbonini/blazetools/pkg/common"
	"gopkg.in/yaml.v3"
)

// Value is an integer written either as a decimal number or as a "0x…" hex string
type Value int64

// ParseValue parses a decimal or "0x"-prefixed hexadecimal integer with an optional sign.
// Leading zeros are decimal, never octal.
func ParseValue(text string) (int64, error) {
	s := strings.TrimSpace(text)
	negative := false
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	s = strings.ReplaceAll(s, "_", "")
	if s == "" {
		return 0, common.NewError(common.ErrKindConfigInvalid, "malformed integer %q", text)
	}

	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, common.WrapError(common.ErrKindConfigInvalid, err, "malformed integer %q", text)
	}
	if negative {
		v = -v
	}
	return v, nil
}

// UnmarshalYAML accepts plain and quoted scalars
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return common.NewError(common.ErrKindConfigInvalid, "line %d: expected an integer", node.Line)
	}
	parsed, err := ParseValue(node.Value)
	if err != nil {
		return common.WrapError(common.ErrKindConfigInvalid, err, "line %d", node.Line)
	}
	*v = Value(parsed)
	return nil
}

// Int returns v as an int64
func (v Value) Int() int64 {
	return int64(v)
}

// Word returns v as a 32-bit word; negative values down to -2^31 use two's complement
func (v Value) Word() (uint32, error) {
	if v < -0x80000000 || v > 0xFFFFFFFF {
		return 0, common.NewError(common.ErrKindConfigInvalid, "value 0x%X does not fit 32 bits", int64(v))
	}
	return uint32(v), nil
}

// Index returns v as a non-negative int; what names the setting in the error
func (v Value) Index(what string) (int, error) {
	n, err := common.SafeInt64ToInt(int64(v))
	if err != nil {
		return 0, common.WrapError(common.ErrKindConfigInvalid, err, "%s", what)
	}
	return n, nil
}

// Byte returns v as a single byte
func (v Value) Byte() (byte, error) {
	b, err := common.SafeInt64ToUint8(int64(v))
	if err != nil {
		return 0, common.WrapError(common.ErrKindConfigInvalid, err, "byte value")
	}
	return b, nil
}

// Bytes is a byte pattern written as a hex string ("0A 00 05 24") or a list of integers
type Bytes []byte

// UnmarshalYAML decodes either representation
func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		text := strings.NewReplacer(" ", "", "\t", "", "0x", "", "0X", "", ",", "").Replace(node.Value)
		decoded, err := hex.DecodeString(text)
		if err != nil {
			return common.WrapError(common.ErrKindConfigInvalid, err, "line %d: malformed hex bytes %q", node.Line, node.Value)
		}
		*b = decoded
	case yaml.SequenceNode:
		out := make([]byte, 0, len(node.Content))
		for _, item := range node.Content {
			var v Value
			if err := item.Decode(&v); err != nil {
				return err
			}
			value, err := v.Byte()
			if err != nil {
				return common.WrapError(common.ErrKindConfigInvalid, err, "line %d", item.Line)
			}
			out = append(out, value)
		}
		*b = out
	default:
		return common.NewError(common.ErrKindConfigInvalid, "line %d: expected hex string or byte list", node.Line)
	}
	return nil
}

// Range is an inclusive [min, max] byte range written as a two-element list or {min, max}.
// Region filters use it; excluded ranges use the half-open Span.
type Range struct {
	Min int64
	Max int64
}

// UnmarshalYAML decodes either representation
func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	var bounds []Value
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&bounds); err != nil {
			return err
		}
	case yaml.MappingNode:
		var m struct {
			Min   *Value `yaml:"min"`
			Max   *Value `yaml:"max"`
			Start *Value `yaml:"start"`
			End   *Value `yaml:"end"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		lo, hi := firstValue(m.Min, m.Start), firstValue(m.Max, m.End)
		if lo == nil || hi == nil {
			return common.NewError(common.ErrKindConfigInvalid, "line %d: range needs both bounds", node.Line)
		}
		bounds = []Value{*lo, *hi}
	}
	if len(bounds) != 2 {
		return common.NewError(common.ErrKindConfigInvalid, "line %d: range must have exactly two bounds", node.Line)
	}
	if bounds[1] < bounds[0] {
		return common.NewError(common.ErrKindConfigInvalid, "line %d: range [0x%X, 0x%X] is reversed", node.Line, int64(bounds[0]), int64(bounds[1]))
	}
	r.Min, r.Max = int64(bounds[0]), int64(bounds[1])
	return nil
}

// Contains reports whether offset lies in [Min, Max]
func (r Range) Contains(offset int64) bool {
	return offset >= r.Min && offset <= r.Max
}

// Span is a half-open [start, end) byte range, decoded like Range
type Span Range

// UnmarshalYAML accepts the Range representations
func (s *Span) UnmarshalYAML(node *yaml.Node) error {
	return (*Range)(s).UnmarshalYAML(node)
}

// Contains reports whether offset lies in [Min, Max)
func (s Span) Contains(offset int64) bool {
	return offset >= s.Min && offset < s.Max
}

func firstValue(values ...*Value) *Value {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// NamedValue is one entry of an ordered name -> integer mapping
type NamedValue struct {
	Name  string
	Value Value
}

// NamedValues keeps a YAML/JSON object's key order, which decides write order
type NamedValues []NamedValue

// UnmarshalYAML decodes a mapping preserving key order
func (n *NamedValues) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return common.NewError(common.ErrKindConfigInvalid, "line %d: expected a mapping", node.Line)
	}
	out := make(NamedValues, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v Value
		if err := node.Content[i+1].Decode(&v); err != nil {
			return common.WrapError(common.ErrKindConfigInvalid, err, "key %q", node.Content[i].Value)
		}
		out = append(out, NamedValue{Name: node.Content[i].Value, Value: v})
	}
	*n = out
	return nil
}

// Lookup returns the value stored under name
func (n NamedValues) Lookup(name string) (Value, bool) {
	for _, nv := range n {
		if nv.Name == name {
			return nv.Value, true
		}
	}
	return 0, false
}
