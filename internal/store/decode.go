package store

import (
	"errors"
	"fmt"
	"time"
)

// SchemaVersionField is present on every record written by this module.
const SchemaVersionField = "schemaVersion"

// ErrUnsupportedSchema is returned when a record carries a schema version
// this build cannot read.
var ErrUnsupportedSchema = errors.New("unsupported record schema version")

// DecodeError reports a record that does not match its schema.
type DecodeError struct {
	RecordType string
	RecordID   string
	Field      string
	Reason     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %q: field %q: %s", e.RecordType, e.RecordID, e.Field, e.Reason)
}

// Decoder reads typed fields from a record and keeps the first error.
type Decoder struct {
	r   *Record
	err error
}

// NewDecoder checks the record's schema version and returns a decoder for it.
func NewDecoder(r *Record, version int64) *Decoder {
	d := &Decoder{r: r}
	got, ok := r.Int(SchemaVersionField)
	switch {
	case !r.Has(SchemaVersionField):
		d.Fail(SchemaVersionField, "missing")
	case !ok:
		d.Fail(SchemaVersionField, "not an int")
	case got != version:
		d.err = fmt.Errorf("%w: %s %q has version %d, want %d", ErrUnsupportedSchema, r.Type, r.ID, got, version)
	}
	return d
}

// Err returns the first error encountered.
func (d *Decoder) Err() error { return d.err }

// Fail records a decode error for field unless one is already set.
func (d *Decoder) Fail(field, reason string) {
	if d.err == nil {
		d.err = &DecodeError{RecordType: d.r.Type, RecordID: d.r.ID, Field: field, Reason: reason}
	}
}

func (d *Decoder) lookup(field string, kind Kind, required bool) (Value, bool) {
	v, ok := d.r.Fields[field]
	if !ok {
		if required {
			d.Fail(field, "missing")
		}
		return Value{}, false
	}
	if v.kind != kind {
		d.Fail(field, fmt.Sprintf("expected %s, got %s", kind, v.kind))
		return Value{}, false
	}
	return v, true
}

// String reads a required string field.
func (d *Decoder) String(field string) string {
	v, _ := d.lookup(field, KindString, true)
	return v.s
}

// OptString reads an optional string field. Absent yields nil.
func (d *Decoder) OptString(field string) *string {
	v, ok := d.lookup(field, KindString, false)
	if !ok {
		return nil
	}
	s := v.s
	return &s
}

// Int reads a required integer field.
func (d *Decoder) Int(field string) int64 {
	v, _ := d.lookup(field, KindInt, true)
	return v.i
}

// OptInt reads an optional integer field.
func (d *Decoder) OptInt(field string) *int64 {
	v, ok := d.lookup(field, KindInt, false)
	if !ok {
		return nil
	}
	i := v.i
	return &i
}

// Bool reads a required boolean field.
func (d *Decoder) Bool(field string) bool {
	v, _ := d.lookup(field, KindBool, true)
	return v.b
}

// Time reads a required timestamp field.
func (d *Decoder) Time(field string) time.Time {
	v, _ := d.lookup(field, KindTime, true)
	return v.t
}

// OptTime reads an optional timestamp field.
func (d *Decoder) OptTime(field string) *time.Time {
	v, ok := d.lookup(field, KindTime, false)
	if !ok {
		return nil
	}
	t := v.t
	return &t
}

// OptStrings reads an optional string list. Absent yields nil; a stored
// empty list yields an empty, non-nil slice.
func (d *Decoder) OptStrings(field string) []string {
	v, ok := d.lookup(field, KindStrings, false)
	if !ok {
		return nil
	}
	out := make([]string, len(v.ss))
	copy(out, v.ss)
	return out
}

// SetOptString sets field when s is non-nil.
func (r *Record) SetOptString(field string, s *string) {
	if s != nil {
		r.Set(field, String(*s))
	}
}
