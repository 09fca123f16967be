// Package tp holds the record-type layout tables used by the code
// generator.
package tp

import (
	"tlog.app/go/errors"

	"github.com/l2lang/l2/compiler/set"
)

type (
	// Info describes one record type: its name and ordered fields.
	// A value occupies one word per field plus the header word.
	Info struct {
		Name   string
		Fields []Field
	}

	Field struct {
		Name string
		Type string
	}

	// Table maps type names to their layout. Int is built in and never
	// present here.
	Table map[string]*Info
)

// Int is the built-in non-record type name.
const Int = "int"

// MaxFields is the widest record the header high byte can describe.
const MaxFields = 255

// maxRefFields is how many leading fields the header reference bitmap
// (bits 23..1) covers; only those fields may hold references.
const maxRefFields = 23

func (t Table) Add(inf *Info) error {
	if _, ok := t[inf.Name]; ok {
		return errors.New("type %v is already defined", inf.Name)
	}

	if len(inf.Fields) > MaxFields {
		return errors.New("type %v has %d fields, at most %d are supported", inf.Name, len(inf.Fields), MaxFields)
	}

	seen := map[string]struct{}{}

	for i, f := range inf.Fields {
		if _, ok := seen[f.Name]; ok {
			return errors.New("field %v is declared twice in struct %v", f.Name, inf.Name)
		}

		if f.Type != Int && i >= maxRefFields {
			return errors.New("field %v of struct %v is a reference at index %d, only the first %d fields can hold references", f.Name, inf.Name, i, maxRefFields)
		}

		seen[f.Name] = struct{}{}
	}

	t[inf.Name] = inf

	return nil
}

// OffsetOf is the field's word index within the payload.
func (inf *Info) OffsetOf(field string) (int32, error) {
	i, _, err := inf.field(field)
	return i, err
}

func (inf *Info) TypeOf(field string) (string, error) {
	_, tp, err := inf.field(field)
	return tp, err
}

func (inf *Info) field(field string) (int32, string, error) {
	for i, f := range inf.Fields {
		if f.Name == field {
			return int32(i), f.Type, nil
		}
	}

	// reaching here means name resolution upstream let a bad field through
	return 0, "", errors.New("field %v is not found in struct %v", field, inf.Name)
}

// Tag computes the header word the generated code stores at object offset
// -4: field count in the high byte, the reference bitmap in bits 23..1 and
// the live bit at bit 0.
func (inf *Info) Tag() uint32 {
	ptrs := set.Bits32(0)

	for i, f := range inf.Fields {
		if f.Type != Int {
			ptrs.Set(i + 1)
		}
	}

	return uint32(len(inf.Fields))<<24 | uint32(ptrs) | 1
}
