// Package cache implements the proactive PID cache and fast/slow polling
// scheduler: the supported-PIDs bitmask cache, canonical-command lookup,
// promotion/demotion/eviction maintenance, and the per-round poll plan.
// Grounded directly on tachtalk-firmware/src/obd2.rs's is_pid_supported_in_response,
// normalize_obd_command, count_response_headers, and parse_response_lines.
package cache

import (
	"strconv"
	"strings"
)

// SupportedPIDQueries are the eight base-PID probe commands issued once per
// dongle session to populate the supported-PIDs cache.
var SupportedPIDQueries = [8]string{
	"0100", "0120", "0140", "0160", "0180", "01A0", "01C0", "01E0",
}

// SupportedPIDsIndex returns the 0-7 slot for a supported-PID query command,
// or -1 if cmd isn't one of the eight base queries.
func SupportedPIDsIndex(cmd string) int {
	upper := strings.ToUpper(strings.TrimSpace(cmd))
	for i, q := range SupportedPIDQueries {
		if upper == q {
			return i
		}
	}
	return -1
}

// SupportedPIDs holds the eight raw base-PID query responses (or none, if
// that probe hasn't completed yet) plus a readiness flag. Ready flips true
// once all eight queries have been attempted on the current dongle session,
// and resets to false on every dongle disconnect (spec's documented
// lifecycle for this cache).
type SupportedPIDs struct {
	entries [8][]byte
	ready   bool
}

// NewSupportedPIDs returns an empty, not-ready cache.
func NewSupportedPIDs() *SupportedPIDs {
	return &SupportedPIDs{}
}

// Reset clears all eight slots and flips Ready back to false; called on
// dongle disconnect.
func (s *SupportedPIDs) Reset() {
	for i := range s.entries {
		s.entries[i] = nil
	}
	s.ready = false
}

// Record stores the raw response to base query index i (0-7). Once all
// eight slots have been attempted (even with an empty/failed response),
// Ready flips true.
func (s *SupportedPIDs) Record(index int, raw []byte) {
	if index < 0 || index > 7 {
		return
	}
	if raw == nil {
		raw = []byte{}
	}
	s.entries[index] = raw

	for _, e := range s.entries {
		if e == nil {
			return
		}
	}
	s.ready = true
}

// Ready reports whether all eight base-PID probes have completed.
func (s *SupportedPIDs) Ready() bool {
	return s.ready
}

// IsKnownUnsupported reports whether pid (a mode-01 PID byte) is known,
// from the populated bitmask cache, NOT to be supported by the ECU. It
// returns false (not provably unsupported) whenever the cache isn't ready,
// or no populated slot covers pid's range — callers must still forward the
// request to the dongle in that case.
func (s *SupportedPIDs) IsKnownUnsupported(pid byte) bool {
	if !s.ready {
		return false
	}
	for _, raw := range s.entries {
		if len(raw) == 0 {
			continue
		}
		if covers, supported := isPIDSupportedInResponse(raw, pid); covers {
			return !supported
		}
	}
	return false
}

// isPIDSupportedInResponse parses a raw "41XXYYYYYYYY"-shaped response
// (spaces optionally present) to a supported-PID base query and reports
// whether it covers pid's range, and if so whether pid is marked supported.
// Bit position: pid==base+1 is bit 7 of data byte 0; pid==base+8 is bit 0 of
// byte 0; pid==base+9 is bit 7 of byte 1; etc.
func isPIDSupportedInResponse(response []byte, pid byte) (covers bool, supported bool) {
	upper := strings.ToUpper(string(response))

	headerPos := strings.Index(upper, "41")
	if headerPos < 0 || len(upper) < headerPos+4 {
		return false, false
	}

	baseStr := upper[headerPos+2 : headerPos+4]
	base64, err := strconv.ParseUint(baseStr, 16, 8)
	if err != nil {
		return false, false
	}
	base := byte(base64)

	if pid <= base || int(pid) > int(base)+0x20 {
		return false, false
	}

	dataBytes := parseHexBytes(upper[headerPos+4:])
	if len(dataBytes) < 4 {
		return false, false
	}

	offset := pid - base - 1
	byteIndex := offset / 8
	bitIndex := 7 - (offset % 8)

	return true, (dataBytes[byteIndex]>>bitIndex)&1 == 1
}

// parseHexBytes parses up to 4 hex byte pairs from s, ignoring any non-hex
// characters (so it tolerates both space-inserted and compact responses).
func parseHexBytes(s string) []byte {
	hexDigits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isHexDigit(c) {
			hexDigits = append(hexDigits, c)
		}
	}

	out := make([]byte, 0, 4)
	for i := 0; i+1 < len(hexDigits) && len(out) < 4; i += 2 {
		v, err := strconv.ParseUint(string(hexDigits[i:i+2]), 16, 8)
		if err != nil {
			break
		}
		out = append(out, byte(v))
	}
	return out
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F') || (b >= 'a' && b <= 'f')
}
