package binio

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/segmentio/ksuid"
	"github.com/twinfer/binrec/pkg/binerr"
)

// Reservation is a placeholder in a Writer's buffer waiting to be filled.
// Kind is Invalid for raw byte reservations made with ReserveBytes.
type Reservation struct {
	Owner  any
	Field  string
	Offset int
	Width  int
	Kind   Kind
	Order  ByteOrder
}

// Label returns "owner.field" as used in error messages.
func (r Reservation) Label() string {
	return OwnerLabel(r.Owner) + "." + r.Field
}

type reservationKey struct {
	owner any
	field string
}

type pendingReservation struct {
	Reservation
	seq int
}

type orderedKey struct {
	key reservationKey
	seq int
}

type reservations struct {
	pending map[reservationKey]*pendingReservation
	history []orderedKey
	seq     int
}

func newReservations() reservations {
	return reservations{pending: make(map[reservationKey]*pendingReservation)}
}

// Token is an opaque reservation owner for callers that have no natural
// per-instance identity.
type Token struct {
	id ksuid.KSUID
}

// NewToken mints a unique Token.
func NewToken() Token {
	return Token{id: ksuid.New()}
}

// String returns the token in its ksuid text form.
func (t Token) String() string {
	return "token:" + t.id.String()
}

// Mint returns a fresh owner token for reservations made on w.
func (w *Writer) Mint() Token {
	return NewToken()
}

// OwnerLabel renders an owner identity for diagnostics. Pointers render as
// their element type and address.
func OwnerLabel(owner any) string {
	switch o := owner.(type) {
	case nil:
		return "<nil>"
	case string:
		return o
	case fmt.Stringer:
		return o.String()
	}
	rv := reflect.ValueOf(owner)
	if rv.Kind() == reflect.Pointer {
		return fmt.Sprintf("%s(%p)", rv.Type().Elem(), owner)
	}
	return fmt.Sprintf("%v", owner)
}

// Reserve writes a zeroed placeholder for a value of kind and records it
// under (owner, field). The owner must be comparable; record codecs pass the
// record's pointer.
func (w *Writer) Reserve(owner any, field string, kind Kind, order ByteOrder) error {
	width := kind.Size(w.longVarints)
	if width == 0 {
		return binerr.New(binerr.ClassReservation, binerr.KindTypeMismatch).
			Field(field).
			Offset(int64(w.Pos())).
			Detail("cannot reserve scalar kind %s", kind).
			Build()
	}
	return w.reserve(owner, field, width, kind, order.resolve(w.order))
}

// ReserveBytes writes width zero bytes and records them under (owner, field).
func (w *Writer) ReserveBytes(owner any, field string, width int) error {
	if width <= 0 {
		return binerr.New(binerr.ClassReservation, binerr.KindInvalidValue).
			Field(field).
			Offset(int64(w.Pos())).
			Detail("reservation width must be positive, got %d", width).
			Build()
	}
	return w.reserve(owner, field, width, Invalid, w.order)
}

func (w *Writer) reserve(owner any, field string, width int, kind Kind, order ByteOrder) error {
	if err := w.register(owner, field, w.Pos(), width, kind, order); err != nil {
		return err
	}
	return w.Pad(width, 0)
}

// MarkReserved records a reservation of kind over bytes already written at
// offset. Nothing is written; the caller owns the placeholder bytes.
func (w *Writer) MarkReserved(owner any, field string, offset int, kind Kind, order ByteOrder) error {
	width := kind.Size(w.longVarints)
	if width == 0 {
		return binerr.New(binerr.ClassReservation, binerr.KindTypeMismatch).
			Field(field).
			Offset(int64(offset)).
			Detail("cannot reserve scalar kind %s", kind).
			Build()
	}
	if offset < 0 || offset+width > w.Pos() {
		return binerr.New(binerr.ClassReservation, binerr.KindInvalidValue).
			Field(field).
			Offset(int64(offset)).
			Value(offset).
			Detail("%d bytes at %d are outside the %d written bytes", width, offset, w.Pos()).
			Build()
	}
	return w.register(owner, field, offset, width, kind, order.resolve(w.order))
}

func (w *Writer) register(owner any, field string, offset, width int, kind Kind, order ByteOrder) error {
	if t := reflect.TypeOf(owner); t != nil && !t.Comparable() {
		return binerr.New(binerr.ClassReservation, binerr.KindInvalidOwner).
			Field(field).
			Offset(int64(offset)).
			Detail("owner type %s is not comparable", t).
			Build()
	}
	key := reservationKey{owner: owner, field: field}
	if _, exists := w.pending[key]; exists {
		return binerr.New(binerr.ClassReservation, binerr.KindDuplicateReservation).
			Field(field).
			Offset(int64(offset)).
			Detail("%s is already reserved", OwnerLabel(owner)+"."+field).
			Build()
	}

	w.seq++
	w.pending[key] = &pendingReservation{
		Reservation: Reservation{
			Owner:  owner,
			Field:  field,
			Offset: offset,
			Width:  width,
			Kind:   kind,
			Order:  order,
		},
		seq: w.seq,
	}
	w.history = append(w.history, orderedKey{key: key, seq: w.seq})
	return nil
}

// Mark is a position in a Writer's output and reservation history.
type Mark struct {
	pos int
	seq int
}

// Mark returns the current output length and reservation state.
func (w *Writer) Mark() Mark {
	return Mark{pos: w.Pos(), seq: w.seq}
}

// Rollback truncates the output to m and drops every reservation made after
// it. Fills of older reservations are kept.
func (w *Writer) Rollback(m Mark) error {
	if m.pos > w.Pos() || m.seq > w.seq {
		return binerr.New(binerr.ClassEncode, binerr.KindInvalidValue).
			Offset(int64(m.pos)).
			Detail("mark at %d is past the end of the output (%d)", m.pos, w.Pos()).
			Build()
	}
	w.out.buf = w.out.buf[:m.pos]
	w.out.pos = m.pos

	kept := w.history[:0]
	for _, h := range w.history {
		if h.seq <= m.seq {
			kept = append(kept, h)
			continue
		}
		if p, ok := w.pending[h.key]; ok && p.seq == h.seq {
			delete(w.pending, h.key)
		}
	}
	w.history = kept
	return nil
}

// Reserved reports whether (owner, field) is waiting to be filled.
func (w *Writer) Reserved(owner any, field string) bool {
	_, ok := w.pending[reservationKey{owner: owner, field: field}]
	return ok
}

// Outstanding returns the unfilled reservations in the order they were made.
func (w *Writer) Outstanding() []Reservation {
	var out []Reservation
	for _, h := range w.history {
		if p, found := w.pending[h.key]; found && p.seq == h.seq {
			out = append(out, p.Reservation)
		}
	}
	return out
}

func (w *Writer) lookup(owner any, field string) (*pendingReservation, error) {
	if t := reflect.TypeOf(owner); t != nil && !t.Comparable() {
		return nil, binerr.New(binerr.ClassReservation, binerr.KindInvalidOwner).
			Field(field).
			Detail("owner type %s is not comparable", t).
			Build()
	}
	p, ok := w.pending[reservationKey{owner: owner, field: field}]
	if !ok {
		return nil, binerr.New(binerr.ClassReservation, binerr.KindUnknownReservation).
			Field(field).
			Detail("no pending reservation for %s", OwnerLabel(owner)+"."+field).
			Build()
	}
	return p, nil
}

func (w *Writer) release(p *pendingReservation) {
	delete(w.pending, reservationKey{owner: p.Owner, field: p.Field})
}

// Fill patches a reservation with value, encoded with the kind and byte
// order given at Reserve time. Raw byte reservations take a []byte of the
// reserved width. The write cursor does not move.
func (w *Writer) Fill(owner any, field string, value any) error {
	p, err := w.lookup(owner, field)
	if err != nil {
		return err
	}
	if p.Kind == Invalid {
		b, ok := value.([]byte)
		if !ok {
			return binerr.New(binerr.ClassEncode, binerr.KindTypeMismatch).
				Field(field).
				Offset(int64(p.Offset)).
				Detail("raw reservation %s takes []byte, got %T", p.Label(), value).
				Build()
		}
		return w.fillBytes(p, b)
	}
	return w.fillScalar(p, value, p.Kind, p.Order)
}

// FillAs patches a reservation with value encoded as kind. The kind's width
// must equal the reserved width.
func (w *Writer) FillAs(owner any, field string, value any, kind Kind, order ByteOrder) error {
	p, err := w.lookup(owner, field)
	if err != nil {
		return err
	}
	if size := kind.Size(w.longVarints); size != p.Width {
		return binerr.New(binerr.ClassEncode, binerr.KindLengthMismatch).
			Field(field).
			Offset(int64(p.Offset)).
			Detail("%s is %d bytes wide, %s is %d", p.Label(), p.Width, kind, size).
			Build()
	}
	return w.fillScalar(p, value, kind, order.resolve(w.order))
}

// FillBytes patches a reservation with raw bytes of exactly the reserved
// width.
func (w *Writer) FillBytes(owner any, field string, b []byte) error {
	p, err := w.lookup(owner, field)
	if err != nil {
		return err
	}
	return w.fillBytes(p, b)
}

// FillWithPosition fills a reservation with the current write position and
// returns that position. Raw reservations get an unsigned integer of their
// width in the writer's byte order.
func (w *Writer) FillWithPosition(owner any, field string) (int, error) {
	pos := w.Pos()
	p, err := w.lookup(owner, field)
	if err != nil {
		return 0, err
	}
	kind, order := p.Kind, p.Order
	if kind == Invalid {
		kind = unsignedOfWidth(p.Width)
		if kind == Invalid {
			return 0, binerr.New(binerr.ClassEncode, binerr.KindLengthMismatch).
				Field(field).
				Offset(int64(p.Offset)).
				Detail("no integer kind is %d bytes wide", p.Width).
				Build()
		}
	}
	if err := w.fillScalar(p, pos, kind, order); err != nil {
		return 0, err
	}
	return pos, nil
}

// FillMultiple fills several reservations of one owner. Fields are filled in
// name order and the first failure stops the call.
func (w *Writer) FillMultiple(owner any, values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := w.Fill(owner, name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) fillScalar(p *pendingReservation, value any, kind Kind, order ByteOrder) error {
	if err := w.encodeAt(p.Offset, value, kind, order); err != nil {
		return binerr.Locate(err, "", p.Field)
	}
	w.release(p)
	return nil
}

func (w *Writer) fillBytes(p *pendingReservation, b []byte) error {
	if len(b) != p.Width {
		return binerr.New(binerr.ClassEncode, binerr.KindLengthMismatch).
			Field(p.Field).
			Offset(int64(p.Offset)).
			Detail("%s is %d bytes wide, got %d", p.Label(), p.Width, len(b)).
			Build()
	}
	copy(w.out.buf[p.Offset:p.Offset+p.Width], b)
	w.release(p)
	return nil
}

func (w *Writer) unfilledError() error {
	outstanding := w.Outstanding()
	if len(outstanding) == 0 {
		return nil
	}
	labels := make([]string, len(outstanding))
	for i, r := range outstanding {
		labels[i] = r.Label()
	}
	return binerr.New(binerr.ClassReservation, binerr.KindUnfilled).
		Value(outstanding).
		Detail("%d unfilled reservation(s): %s", len(outstanding), strings.Join(labels, ", ")).
		Build()
}

func unsignedOfWidth(width int) Kind {
	switch width {
	case 1:
		return Uint8
	case 2:
		return Uint16
	case 4:
		return Uint32
	case 8:
		return Uint64
	}
	return Invalid
}
