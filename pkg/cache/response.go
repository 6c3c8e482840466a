package cache

import (
	"bytes"
	"strings"

	"github.com/tachtalk/tachtalk/pkg/elm327"
)

// CachedResponse is one cache entry: one raw response line per ECU that
// replied (most PIDs get exactly one).
type CachedResponse [][]byte

// ParseResponseLines splits a raw dongle response (e.g.
// "410C1AF8\r410C1B00\r\r>") on '\r', dropping empty lines and the trailing
// '>' prompt, into one entry per ECU response line.
func ParseResponseLines(raw []byte) CachedResponse {
	var out CachedResponse
	for _, line := range bytes.Split(raw, []byte{'\r'}) {
		if len(line) == 0 || bytes.Equal(line, []byte(">")) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		out = append(out, cp)
	}
	return out
}

// CountResponseHeaders counts case-insensitive "41" occurrences in a raw
// response, used to infer how many ECUs replied so the next request can be
// suffixed " N" (tells the ELM327 not to wait out the timeout after N
// replies).
func CountResponseHeaders(raw []byte) int {
	return strings.Count(strings.ToUpper(string(raw)), "41")
}

// FormatCachedForClient reconstructs the wire-format response clients
// expect from cached per-ECU lines: "{le}{line1}{le}{line2}...{le}>", with
// each line space-inserted per sess's current toggle.
func FormatCachedForClient(values CachedResponse, sess *elm327.Session) []byte {
	le := sess.LineEnding()
	var out bytes.Buffer
	for _, v := range values {
		out.WriteString(le)
		out.Write(sess.FormatResponse(v))
	}
	out.WriteString(le)
	out.WriteByte('>')
	return out.Bytes()
}
