// Package capture implements the ".ttcap" binary container used to record
// raw proxy traffic: a fixed 64-byte header followed by a stream of typed,
// timestamped records. Layout and field order are grounded directly on the
// original tachtalk-capture-format crate; this package is a byte-for-byte
// port of its header/record codec plus the bounded ring-buffer recorder
// (the Rust crate only shipped the codec, not the recorder).
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic is the fixed 8-byte file identifier.
	Magic = "TachTalk"
	// Version is the format version this package writes.
	Version uint16 = 1
	// HeaderSize is the fixed on-disk header size in bytes.
	HeaderSize = 64
	// RecordHeaderSize is the fixed per-record header size (excludes payload).
	RecordHeaderSize = 7
	// FirmwareVersionMaxLen is the fixed width of the firmware version field,
	// including its terminating NUL.
	FirmwareVersionMaxLen = 16
	reservedSize          = 12

	// FlagOverflow indicates the capture buffer discarded or refused records.
	FlagOverflow uint16 = 1 << 0
	// FlagNTPSynced indicates CaptureStartMS is NTP-synchronized wall time.
	FlagNTPSynced uint16 = 1 << 1
)

// ErrInvalidFormat is returned when a header's magic bytes don't match.
var ErrInvalidFormat = errors.New("capture: invalid format")

// Header is the decoded form of the 64-byte ".ttcap" file header.
type Header struct {
	Version          uint16
	HeaderSize       uint16
	RecordCount      uint32
	DataLength       uint32
	CaptureStartMS   uint64
	DongleIP         [4]byte // network byte order (big-endian), i.e. net.IP.To4() octets
	DonglePort       uint16
	Flags            uint16
	FirmwareVersion  string // decoded up to the first NUL
}

// Overflow reports whether FlagOverflow is set.
func (h Header) Overflow() bool { return h.Flags&FlagOverflow != 0 }

// NTPSynced reports whether FlagNTPSynced is set.
func (h Header) NTPSynced() bool { return h.Flags&FlagNTPSynced != 0 }

// EncodeHeader serializes h into the fixed 64-byte on-disk layout, always at
// Version/HeaderSize for this package (the caller's Version/HeaderSize
// fields are ignored so callers can't accidentally emit a header other
// readers would reject). FirmwareVersion is truncated to 15 bytes plus a
// trailing NUL.
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:8], Magic)
	binary.LittleEndian.PutUint16(buf[8:10], Version)
	binary.LittleEndian.PutUint16(buf[10:12], HeaderSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.RecordCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.DataLength)
	binary.LittleEndian.PutUint64(buf[20:28], h.CaptureStartMS)
	copy(buf[28:32], h.DongleIP[:])
	binary.LittleEndian.PutUint16(buf[32:34], h.DonglePort)
	binary.LittleEndian.PutUint16(buf[34:36], h.Flags)

	fw := h.FirmwareVersion
	if len(fw) > FirmwareVersionMaxLen-1 {
		fw = fw[:FirmwareVersionMaxLen-1]
	}
	copy(buf[36:36+FirmwareVersionMaxLen], fw)
	// buf[36+len(fw):36+FirmwareVersionMaxLen] and buf[52:64] are already zero.
	return buf
}

// DecodeHeader reads exactly HeaderSize bytes from r (discarding any
// trailing bytes beyond the fixed 64 the field HeaderSize might claim, per
// the forward-compatibility contract) and parses a Header.
//
// It returns (nil, nil) on a clean EOF at offset 0 (no bytes read at all),
// and a non-nil error for a truncated header or a magic mismatch.
func DecodeHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	n, err := io.ReadFull(r, buf[:1])
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("capture: read header: %w", err)
	}
	if _, err := io.ReadFull(r, buf[1:]); err != nil {
		return nil, fmt.Errorf("capture: read header: %w", err)
	}

	if string(buf[0:8]) != Magic {
		return nil, ErrInvalidFormat
	}

	h := &Header{
		Version:        binary.LittleEndian.Uint16(buf[8:10]),
		HeaderSize:     binary.LittleEndian.Uint16(buf[10:12]),
		RecordCount:    binary.LittleEndian.Uint32(buf[12:16]),
		DataLength:     binary.LittleEndian.Uint32(buf[16:20]),
		CaptureStartMS: binary.LittleEndian.Uint64(buf[20:28]),
		DonglePort:     binary.LittleEndian.Uint16(buf[32:34]),
		Flags:          binary.LittleEndian.Uint16(buf[34:36]),
	}
	copy(h.DongleIP[:], buf[28:32])

	end := FirmwareVersionMaxLen
	for i, b := range buf[36 : 36+FirmwareVersionMaxLen] {
		if b == 0 {
			end = i
			break
		}
	}
	h.FirmwareVersion = string(buf[36 : 36+end])

	// A header_size larger than our fixed 64 bytes means the writer appended
	// forward-compatible fields we don't understand; skip them so the caller
	// is positioned at the first record.
	if h.HeaderSize > HeaderSize {
		extra := int64(h.HeaderSize) - HeaderSize
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return nil, fmt.Errorf("capture: skip extended header: %w", err)
		}
	}

	return h, nil
}
