package types

import "fmt"

// Kind is the control-type tag carried in the first byte of every record.
type Kind uint8

const (
	KindResetWindow Kind = iota + 1
	KindBeginWindow
	KindEndWindow
	KindPartitionedData
	KindSimpleData
	KindOtherControl
)

func (k Kind) String() string {
	switch k {
	case KindResetWindow:
		return "RESET_WINDOW"
	case KindBeginWindow:
		return "BEGIN_WINDOW"
	case KindEndWindow:
		return "END_WINDOW"
	case KindPartitionedData:
		return "PARTITIONED_DATA"
	case KindSimpleData:
		return "SIMPLE_DATA"
	case KindOtherControl:
		return "OTHER_CONTROL"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// IsData reports whether records of this kind go through a distribution policy.
func (k Kind) IsData() bool {
	return k == KindPartitionedData || k == KindSimpleData
}

// Record is one decoded unit of the buffered stream. Only the fields that
// belong to its Kind are populated. Byte slices alias the raw encoding and
// must not be modified.
type Record struct {
	kind       Kind
	raw        []byte
	window     uint64
	generation uint32
	width      int32
	partition  []byte
	payload    []byte
}

func NewResetWindow(raw []byte, generation uint32, width int32) Record {
	return Record{kind: KindResetWindow, raw: raw, generation: generation, width: width}
}

func NewWindowMarker(kind Kind, raw []byte, window uint64) Record {
	return Record{kind: kind, raw: raw, window: window}
}

func NewPartitionedData(raw, partition, payload []byte) Record {
	return Record{kind: KindPartitionedData, raw: raw, partition: partition, payload: payload}
}

func NewPayloadRecord(kind Kind, raw, payload []byte) Record {
	return Record{kind: kind, raw: raw, payload: payload}
}

func (r Record) Kind() Kind { return r.kind }

// Raw returns the full encoded record, which is what consumers receive.
func (r Record) Raw() []byte { return r.raw }

// WindowID is the packed window identifier of a BEGIN_WINDOW or END_WINDOW record.
func (r Record) WindowID() uint64 { return r.window }

// Generation is the reset-window generation of a RESET_WINDOW record.
func (r Record) Generation() uint32 { return r.generation }

// Width is the reset-window interval in milliseconds of a RESET_WINDOW record.
func (r Record) Width() int32 { return r.width }

func (r Record) Partition() []byte { return r.partition }

func (r Record) Payload() []byte { return r.payload }

func (r Record) String() string {
	switch r.kind {
	case KindResetWindow:
		return fmt.Sprintf("%s(generation=%d, width=%d)", r.kind, r.generation, r.width)
	case KindBeginWindow, KindEndWindow:
		return fmt.Sprintf("%s(%s)", r.kind, FormatWindowID(r.window))
	case KindPartitionedData:
		return fmt.Sprintf("%s(partition=%q, %d bytes)", r.kind, r.partition, len(r.payload))
	default:
		return fmt.Sprintf("%s(%d bytes)", r.kind, len(r.payload))
	}
}
