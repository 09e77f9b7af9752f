package roadmap

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Record is one loosely-typed object of a raw collection.
type Record struct {
	raw gjson.Result
}

// NewRecord wraps a raw JSON object.
func NewRecord(raw string) Record {
	return Record{raw: gjson.Parse(raw)}
}

// Get returns the field named key, which may be absent or of any JSON type.
func (r Record) Get(key string) Value {
	return Value{raw: r.raw.Get(key)}
}

func (r Record) Raw() string {
	return r.raw.Raw
}

// Value is a single field value of a Record.
type Value struct {
	raw gjson.Result
}

// Exists reports whether the field is present and not null.
func (v Value) Exists() bool {
	return v.raw.Exists() && v.raw.Type != gjson.Null
}

// ID returns the canonical string form of a scalar id. Strings are used verbatim, numbers are
// formatted without exponent or trailing zeros. Blank strings and any other type are not ids.
func (v Value) ID() (string, bool) {
	switch v.raw.Type {
	case gjson.String:
		if strings.TrimSpace(v.raw.Str) == "" {
			return "", false
		}
		return v.raw.Str, true
	case gjson.Number:
		return canonicalNumber(v.raw), true
	default:
		return "", false
	}
}

// Text returns the value as display text: strings verbatim, other scalars in their JSON form.
func (v Value) Text() string {
	switch v.raw.Type {
	case gjson.String:
		return v.raw.Str
	case gjson.Number:
		return canonicalNumber(v.raw)
	case gjson.True, gjson.False:
		return v.raw.Raw
	default:
		return ""
	}
}

func (v Value) String() string {
	if !v.raw.Exists() {
		return "<missing>"
	}
	return v.raw.Raw
}

func canonicalNumber(r gjson.Result) string {
	raw := strings.TrimSpace(r.Raw)
	if raw != "" && !strings.ContainsAny(raw, ".eE") {
		return strings.TrimPrefix(raw, "+")
	}
	return strconv.FormatFloat(r.Num, 'f', -1, 64)
}
