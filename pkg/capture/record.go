package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// RecordType tags the kind of a capture record.
type RecordType uint8

const (
	// RecordClientToDongle is a byte span forwarded from client to dongle.
	RecordClientToDongle RecordType = 0
	// RecordDongleToClient is a byte span forwarded from dongle to client.
	RecordDongleToClient RecordType = 1
	// RecordConnect is a connect event, written by pkg/dongle when the
	// dongle connection comes up; carries no payload.
	RecordConnect RecordType = 2
	// RecordDisconnect is a disconnect event, written by pkg/dongle when the
	// dongle connection goes down; carries no payload.
	RecordDisconnect RecordType = 3
)

// String returns a short label, used in diagnostics and decode tooling.
func (t RecordType) String() string {
	switch t {
	case RecordClientToDongle:
		return "TX"
	case RecordDongleToClient:
		return "RX"
	case RecordConnect:
		return "CONNECT"
	case RecordDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// recordTypeFromByte validates a raw type byte, returning false for unknown
// values.
func recordTypeFromByte(b byte) (RecordType, bool) {
	switch RecordType(b) {
	case RecordClientToDongle, RecordDongleToClient, RecordConnect, RecordDisconnect:
		return RecordType(b), true
	default:
		return 0, false
	}
}

// Record is a single decoded capture record.
type Record struct {
	TimestampMS uint32
	Type        RecordType
	Data        []byte
}

// ErrTruncated is returned when a record's header or payload is cut short.
var ErrTruncated = errors.New("capture: truncated record")

// ErrUnknownRecordType is returned when a record's type byte isn't one of
// the four defined values.
type ErrUnknownRecordType struct {
	Offset uint64
	Type   byte
}

func (e *ErrUnknownRecordType) Error() string {
	return fmt.Sprintf("capture: invalid record type 0x%02x at offset %d", e.Type, e.Offset)
}

// encodeRecord serializes a record to its wire form: 7-byte header + data.
func encodeRecord(timestampMS uint32, t RecordType, data []byte) []byte {
	buf := make([]byte, RecordHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], timestampMS)
	buf[4] = byte(t)
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(data)))
	copy(buf[7:], data)
	return buf
}

// RecordDecoder iterates records from a reader positioned immediately after
// the file header, tracking a byte offset for diagnostics and restart.
type RecordDecoder struct {
	r      io.Reader
	offset uint64
}

// NewRecordDecoder returns a decoder reading records from r.
func NewRecordDecoder(r io.Reader) *RecordDecoder {
	return &RecordDecoder{r: r}
}

// Offset returns the number of record bytes consumed so far. A decoder can
// be restarted from any offset that begins a record header by re-wrapping a
// reader seeked to that point.
func (d *RecordDecoder) Offset() uint64 {
	return d.offset
}

// Next returns the next record, (nil, nil) on a clean EOF at a record
// boundary, or an error on a truncated header/body or an unknown type byte.
func (d *RecordDecoder) Next() (*Record, error) {
	var header [RecordHeaderSize]byte
	n, err := io.ReadFull(d.r, header[:1])
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if _, err := io.ReadFull(d.r, header[1:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	timestampMS := binary.LittleEndian.Uint32(header[0:4])
	typeByte := header[4]
	dataLen := binary.LittleEndian.Uint16(header[5:7])

	recType, ok := recordTypeFromByte(typeByte)
	if !ok {
		return nil, &ErrUnknownRecordType{Offset: d.offset, Type: typeByte}
	}

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	d.offset += uint64(RecordHeaderSize) + uint64(dataLen)

	return &Record{
		TimestampMS: timestampMS,
		Type:        recType,
		Data:        data,
	}, nil
}
