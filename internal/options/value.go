package options

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which field of a Value is populated.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindTextList
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTextList:
		return "text_list"
	default:
		return "text"
	}
}

// Value is a coerced option value. Exactly one field matches Kind.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Text  string
	List  []string
}

func IntValue(v int64) Value         { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value     { return Value{Kind: KindFloat, Float: v} }
func TextValue(v string) Value       { return Value{Kind: KindText, Text: v} }
func TextListValue(v []string) Value { return Value{Kind: KindTextList, List: v} }

// Coerce converts a raw command-line token into a typed Value.
//
// Branch order is significant: pipe lists win over numbers, digits-only tokens
// are integers, anything strconv can read is a float, and quoted tokens are
// unwrapped last. A leading minus sign is not a digit, so "-5" is a float.
// Floats follow Python's float() grammar: surrounding whitespace is allowed,
// hex literals are not, and out-of-range exponents become ±Inf.
func Coerce(token string) Value {
	if strings.Contains(token, "|") && !strings.HasPrefix(token, `"`) {
		return TextListValue(strings.Split(token, "|"))
	}

	if isDigits(token) {
		if n, err := strconv.ParseInt(token, 10, 64); err == nil {
			return IntValue(n)
		}
	}

	if f, ok := parseFloat(token); ok {
		return FloatValue(f)
	}

	if strings.HasPrefix(token, `"`) && strings.HasSuffix(token, `"`) {
		var inner string
		if len(token) >= 2 {
			inner = token[1 : len(token)-1]
		}
		if strings.Contains(inner, "|") {
			return TextListValue(strings.Split(inner, "|"))
		}
		return TextValue(inner)
	}

	return TextValue(token)
}

func parseFloat(token string) (float64, bool) {
	s := strings.TrimSpace(token)
	unsigned := strings.TrimLeft(s, "+-")
	if len(s)-len(unsigned) > 1 {
		return 0, false
	}
	if len(unsigned) >= 2 && unsigned[0] == '0' && (unsigned[1] == 'x' || unsigned[1] == 'X') {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return f, true
		}
		return 0, false
	}
	return f, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Any returns the value as a plain Go value suitable for JSON encoding.
// JSON has no NaN or Inf, so non-finite floats become "nan", "inf" or "-inf".
func (v Value) Any() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return formatFloat(v.Float)
		}
		return v.Float
	case KindTextList:
		out := make([]string, len(v.List))
		copy(out, v.List)
		return out
	default:
		return v.Text
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// String renders the value the way the pipeline's str() would, so numeric
// model ids survive the round trip ("132632", "1.0", "['a', 'b']").
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return formatFloat(v.Float)
	case KindTextList:
		quoted := make([]string, len(v.List))
		for i, s := range v.List {
			quoted[i] = "'" + s + "'"
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	default:
		return v.Text
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Truthy reports whether the value counts as set for boolean switches.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindTextList:
		return len(v.List) > 0
	default:
		return v.Text != ""
	}
}
