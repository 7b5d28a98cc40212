// Package binerr defines the structured errors returned by binrec.
//
// Every error carries a Class (which stage failed) and a Kind (what went
// wrong), plus enough context to locate the failing field: the record type
// name, the field name and, where applicable, the byte offset.
//
// Errors are matched with errors.Is against the class or kind sentinels:
//
//	if errors.Is(err, binerr.ErrDecode) { ... }     // any decode failure
//	if errors.Is(err, binerr.ErrAssertion) { ... }  // asserted value mismatch
//
// and inspected with errors.As:
//
//	var be *binerr.Error
//	if errors.As(err, &be) {
//	    log.Printf("field %s at offset %d", be.Field, be.Offset)
//	}
package binerr

import (
	"errors"
	"fmt"
	"strings"
)

// Class indicates the stage that failed.
type Class string

const (
	ClassResolution  Class = "resolution"  // unknown or ambiguous field type
	ClassCompile     Class = "compile"     // bad overrides, bit overflow, cycles
	ClassDecode      Class = "decode"      // bytes to record
	ClassEncode      Class = "encode"      // record to bytes
	ClassReservation Class = "reservation" // reserve/fill bookkeeping
)

// Kind categorizes the error within its class.
type Kind string

const (
	KindUnknownType          Kind = "unknown_type"
	KindNoDefaultEncoding    Kind = "no_default_encoding"
	KindMissingLength        Kind = "missing_length"
	KindBitOverflow          Kind = "bit_overflow"
	KindCycle                Kind = "cycle"
	KindEmptyAssertion       Kind = "empty_assertion"
	KindInvalidOverride      Kind = "invalid_override"
	KindOutOfData            Kind = "out_of_data"
	KindAssertion            Kind = "assertion"
	KindNonZeroPadding       Kind = "non_zero_padding"
	KindUnterminatedString   Kind = "unterminated_string"
	KindInvalidValue         Kind = "invalid_value"
	KindCheckFailed          Kind = "check_failed"
	KindOverflow             Kind = "overflow"
	KindLengthMismatch       Kind = "length_mismatch"
	KindTypeMismatch         Kind = "type_mismatch"
	KindUnknownField         Kind = "unknown_field"
	KindUnknownReservation   Kind = "unknown_reservation"
	KindDuplicateReservation Kind = "duplicate_reservation"
	KindUnfilled             Kind = "unfilled"
	KindInvalidOwner         Kind = "invalid_owner"
	KindIO                   Kind = "io"
)

// NoOffset marks an error that is not tied to a byte position.
const NoOffset int64 = -1

// Class sentinels match any error of that class.
var (
	ErrResolution  = &Error{Class: ClassResolution}
	ErrCompile     = &Error{Class: ClassCompile}
	ErrDecode      = &Error{Class: ClassDecode}
	ErrEncode      = &Error{Class: ClassEncode}
	ErrReservation = &Error{Class: ClassReservation}
)

// Kind sentinels match errors of any class with that kind.
var (
	ErrOutOfData          = &Error{Kind: KindOutOfData}
	ErrAssertion          = &Error{Kind: KindAssertion}
	ErrNonZeroPadding     = &Error{Kind: KindNonZeroPadding}
	ErrUnknownReservation = &Error{Kind: KindUnknownReservation}
	ErrUnfilled           = &Error{Kind: KindUnfilled}
	ErrCycle              = &Error{Kind: KindCycle}
	ErrBitOverflow        = &Error{Kind: KindBitOverflow}
	ErrUnknownType        = &Error{Kind: KindUnknownType}
	ErrIO                 = &Error{Kind: KindIO}
)

// Error is the structured error type used throughout binrec.
type Error struct {
	Value  any
	Cause  error
	Class  Class
	Kind   Kind
	Record string
	Field  string
	Offset int64
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Class))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Record != "" || e.Field != "" {
		b.WriteString(" at ")
		switch {
		case e.Record != "" && e.Field != "":
			b.WriteString(e.Record)
			b.WriteByte('.')
			b.WriteString(e.Field)
		case e.Record != "":
			b.WriteString(e.Record)
		default:
			b.WriteString(e.Field)
		}
	}

	if e.Offset >= 0 {
		fmt.Fprintf(&b, " (offset 0x%x)", e.Offset)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Empty Class or Kind on the
// target act as wildcards.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Class != "" && t.Class != e.Class {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return t.Class != "" || t.Kind != ""
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New creates a new error builder.
func New(class Class, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Class:  class,
			Kind:   kind,
			Offset: NoOffset,
		},
	}
}

// Record sets the record type name.
func (b *Builder) Record(name string) *Builder {
	b.err.Record = name
	return b
}

// Field sets the field name.
func (b *Builder) Field(name string) *Builder {
	b.err.Field = name
	return b
}

// Offset sets the byte offset.
func (b *Builder) Offset(off int64) *Builder {
	b.err.Offset = off
	return b
}

// Value sets the offending value.
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	return &b.err
}

// Locate fills in the record and field of err if it is an *Error that does
// not name them yet. Errors from nested records keep their innermost location.
func Locate(err error, record, field string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Record == "" {
		e.Record = record
		if e.Field == "" {
			e.Field = field
		}
	}
	return err
}

// Convenience constructors for common error patterns

// OutOfData creates an insufficient-bytes decode error.
func OutOfData(offset int64, want int, cause error) *Error {
	return &Error{
		Class:  ClassDecode,
		Kind:   KindOutOfData,
		Offset: offset,
		Detail: fmt.Sprintf("need %d bytes", want),
		Cause:  cause,
	}
}

// Assertion creates an asserted-value mismatch error.
func Assertion(class Class, offset int64, expected []any, actual any) *Error {
	var want string
	if len(expected) == 1 {
		want = fmt.Sprintf("%v", expected[0])
	} else {
		parts := make([]string, len(expected))
		for i, v := range expected {
			parts[i] = fmt.Sprintf("%v", v)
		}
		want = "one of [" + strings.Join(parts, ", ") + "]"
	}
	return &Error{
		Class:  class,
		Kind:   KindAssertion,
		Offset: offset,
		Value:  actual,
		Detail: fmt.Sprintf("expected %s, got %v", want, actual),
	}
}

// Compile creates a compile error for a field.
func Compile(kind Kind, record, field, msg string, args ...any) *Error {
	return New(ClassCompile, kind).Record(record).Field(field).Detail(msg, args...).Build()
}

// Resolution creates a resolution error for a field.
func Resolution(kind Kind, record, field, msg string, args ...any) *Error {
	return New(ClassResolution, kind).Record(record).Field(field).Detail(msg, args...).Build()
}
