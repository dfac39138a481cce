package key

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is the canonicalizable subset of a Lua value: nil, bool, an
// integer- or float-distinguished number, a string, or a table (itself a
// mix of an ordered array part and a string-keyed hash part).
type Value struct {
	Kind ValueKind

	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Array   []Value
	Hash    map[string]Value
}

// ValueKind discriminates the tagged union stored in Value.
type ValueKind int

const (
	KindNil ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTable
)

// Nil is the canonical nil value.
var Nil = Value{Kind: KindNil}

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Int constructs an integer-typed number.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Float constructs a float-typed number.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Str constructs a string value.
func Str(s string) Value { return Value{Kind: KindString, Str: s} }

// Table constructs a table value from an array part and a hash part. Either
// may be nil/empty.
func Table(array []Value, hash map[string]Value) Value {
	return Value{Kind: KindTable, Array: array, Hash: hash}
}

// ErrInvalidNumber is returned when a float value is non-finite (infinity or
// NaN), which spec.md §9 forbids from appearing in a canonical serialization.
type ErrInvalidNumber struct{ Value float64 }

func (e *ErrInvalidNumber) Error() string {
	return fmt.Sprintf("key: non-finite number %v is not representable", e.Value)
}

// Canonicalize produces the deterministic, byte-for-byte serialization of an
// options table per spec.md §4.1: keys sorted lexicographically, scalars as
// Lua-like literals, nested tables recursed, array and hash parts both
// emitted. The same logical table always serializes identically regardless
// of original insertion order.
func Canonicalize(v Value) (string, error) {
	var sb strings.Builder
	if err := writeValue(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeValue(sb *strings.Builder, v Value) error {
	switch v.Kind {
	case KindNil:
		sb.WriteString("nil")
	case KindBool:
		if v.Bool {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case KindFloat:
		if math.IsInf(v.Float, 0) || math.IsNaN(v.Float) {
			return &ErrInvalidNumber{Value: v.Float}
		}
		sb.WriteString(formatFloat(v.Float))
	case KindString:
		writeQuotedString(sb, v.Str)
	case KindTable:
		return writeTable(sb, v)
	default:
		return fmt.Errorf("key: unknown value kind %d", v.Kind)
	}
	return nil
}

// formatFloat renders a float with 17 significant digits ('%.17g'), enough
// to round-trip any float64, appending ".0" when the result has neither a
// decimal point nor an exponent so it never looks like an integer, since
// the int/float distinction is part of canonical identity. Non-finite
// values are rejected upstream.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', 17, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func writeQuotedString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\x%02x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

func writeTable(sb *strings.Builder, v Value) error {
	sb.WriteByte('{')
	first := true

	for i, elem := range v.Array {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		fmt.Fprintf(sb, "[%d]=", i+1)
		if err := writeValue(sb, elem); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(v.Hash))
	for k := range v.Hash {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		writeQuotedString(sb, k)
		sb.WriteByte('=')
		if err := writeValue(sb, v.Hash[k]); err != nil {
			return err
		}
	}

	sb.WriteByte('}')
	return nil
}
