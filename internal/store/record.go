// Package store provides the shared record store that devices use as their
// only synchronization substrate.
package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// timeLayout is fixed width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Kind identifies the type carried by a Value.
type Kind uint8

// Supported value kinds.
const (
	KindString Kind = iota + 1
	KindInt
	KindBool
	KindTime
	KindStrings
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindStrings:
		return "strings"
	default:
		return "invalid"
	}
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "string":
		return KindString, nil
	case "int":
		return KindInt, nil
	case "bool":
		return KindBool, nil
	case "time":
		return KindTime, nil
	case "strings":
		return KindStrings, nil
	default:
		return 0, fmt.Errorf("unknown value kind %q", s)
	}
}

// Value is a single typed field value.
type Value struct {
	kind Kind
	s    string
	i    int64
	b    bool
	t    time.Time
	ss   []string
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp value, normalized to UTC.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// Strings returns a string list value. The slice is copied.
func Strings(ss []string) Value {
	return Value{kind: KindStrings, ss: slices.Clone(ss)}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// Compare orders two values of the same kind. Values of different kinds
// compare by kind.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		return int(v.kind) - int(o.kind)
	}
	switch v.kind {
	case KindString:
		return strings.Compare(v.s, o.s)
	case KindInt:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		}
		return 0
	case KindBool:
		switch {
		case v.b == o.b:
			return 0
		case !v.b:
			return -1
		}
		return 1
	case KindTime:
		return v.t.Compare(o.t)
	case KindStrings:
		return slices.Compare(v.ss, o.ss)
	}
	return 0
}

// text renders the scalar form used in SQL comparisons.
func (v Value) text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindTime:
		return v.t.Format(timeLayout)
	}
	return ""
}

type valueEnvelope struct {
	Kind  string          `json:"k"`
	Value json.RawMessage `json:"v"`
}

// MarshalJSON encodes the value with its kind so it can be decoded losslessly.
func (v Value) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch v.kind {
	case KindString:
		raw, err = json.Marshal(v.s)
	case KindInt:
		raw, err = json.Marshal(v.i)
	case KindBool:
		raw, err = json.Marshal(v.b)
	case KindTime:
		raw, err = json.Marshal(v.t.Format(timeLayout))
	case KindStrings:
		ss := v.ss
		if ss == nil {
			ss = []string{}
		}
		raw, err = json.Marshal(ss)
	default:
		return nil, fmt.Errorf("cannot encode value of kind %s", v.kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueEnvelope{Kind: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes a value written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	kind, err := parseKind(env.Kind)
	if err != nil {
		return err
	}

	out := Value{kind: kind}
	switch kind {
	case KindString:
		err = json.Unmarshal(env.Value, &out.s)
	case KindInt:
		err = json.Unmarshal(env.Value, &out.i)
	case KindBool:
		err = json.Unmarshal(env.Value, &out.b)
	case KindTime:
		var s string
		if err = json.Unmarshal(env.Value, &s); err == nil {
			out.t, err = time.ParseInLocation(timeLayout, s, time.UTC)
		}
	case KindStrings:
		err = json.Unmarshal(env.Value, &out.ss)
	}
	if err != nil {
		return fmt.Errorf("decode %s value: %w", kind, err)
	}
	*v = out
	return nil
}

// Record is a typed, schemaless entry in the shared store.
type Record struct {
	Type       string
	ID         string
	Fields     map[string]Value
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// NewRecord creates an empty record of the given type and id.
func NewRecord(recordType, id string) *Record {
	return &Record{
		Type:   recordType,
		ID:     id,
		Fields: make(map[string]Value),
	}
}

// Set stores a field value.
func (r *Record) Set(field string, v Value) {
	if r.Fields == nil {
		r.Fields = make(map[string]Value)
	}
	r.Fields[field] = v
}

// Has reports whether the field is present.
func (r *Record) Has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

// Get returns the raw field value.
func (r *Record) Get(field string) (Value, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// String returns a string field. ok is false when absent or of another kind.
func (r *Record) String(field string) (string, bool) {
	v, ok := r.Fields[field]
	if !ok || v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Int returns an integer field.
func (r *Record) Int(field string) (int64, bool) {
	v, ok := r.Fields[field]
	if !ok || v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// Bool returns a boolean field.
func (r *Record) Bool(field string) (bool, bool) {
	v, ok := r.Fields[field]
	if !ok || v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Time returns a timestamp field.
func (r *Record) Time(field string) (time.Time, bool) {
	v, ok := r.Fields[field]
	if !ok || v.kind != KindTime {
		return time.Time{}, false
	}
	return v.t, true
}

// Strings returns a string list field. The returned slice is a copy.
func (r *Record) Strings(field string) ([]string, bool) {
	v, ok := r.Fields[field]
	if !ok || v.kind != KindStrings {
		return nil, false
	}
	return slices.Clone(v.ss), true
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		Type:       r.Type,
		ID:         r.ID,
		Fields:     make(map[string]Value, len(r.Fields)),
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
	}
	for k, v := range r.Fields {
		if v.kind == KindStrings {
			v.ss = slices.Clone(v.ss)
		}
		out.Fields[k] = v
	}
	return out
}
