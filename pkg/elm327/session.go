// Package elm327 implements the per-connection ELM327 session state: AT
// command toggles, local AT-command handling, and the hex-pair response
// reformatter. It is ported bit-for-bit from the original
// tachtalk-elm327-lib crate, including the documented-odd ATZ line-ending
// behavior called out in spec §9 (preserve, don't silently fix).
package elm327

import "strings"

// Identity is the device identity string this proxy reports in response to
// ATI and as the ELM327 boot banner after a reset.
const Identity = "ELM327 v1.5"

// Session holds one client connection's independent ELM327 protocol toggles.
// It is never shared across connections (spec §9's "per-client mutable
// session" pattern): each proxy.session owns exactly one of these.
type Session struct {
	Echo      bool
	Linefeeds bool
	Spaces    bool
	Headers   bool
}

// NewSession returns a Session with the documented defaults: echo=on,
// linefeeds=on, spaces=on, headers=off.
func NewSession() *Session {
	s := &Session{}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.Echo = true
	s.Linefeeds = true
	s.Spaces = true
	s.Headers = false
}

// LineEnding returns the session's current line terminator: "\r\n" when
// Linefeeds is on, else "\r".
func (s *Session) LineEnding() string {
	if s.Linefeeds {
		return "\r\n"
	}
	return "\r"
}

// HandleAT handles an AT command and returns the full wire-framed response,
// including line endings and the trailing '>' prompt. The command is
// expected already upper-cased (the proxy front-end upper-cases on
// receipt); HandleAT upper-cases defensively regardless.
//
// ATZ resets all toggles to defaults before computing its reply, and the
// reply uses the POST-reset line ending — this is the one deliberately
// preserved ELM327 quirk noted in spec §9: it's undocumented upstream but
// specified behavior here.
func (s *Session) HandleAT(cmd string) []byte {
	upper := strings.ToUpper(strings.TrimSpace(cmd))

	if upper == "ATZ" {
		s.reset()
		le := s.LineEnding()
		return []byte(le + Identity + le + ">")
	}

	le := s.LineEnding()
	body := s.handleBody(upper)
	return []byte(le + body + le + ">")
}

// handleBody mutates toggles as needed and returns the unframed reply body
// for every AT command except ATZ (handled separately in HandleAT since its
// reply must use the line ending captured AFTER the reset).
func (s *Session) handleBody(upper string) string {
	switch upper {
	case "ATE0":
		s.Echo = false
		return "OK"
	case "ATE1":
		s.Echo = true
		return "OK"
	case "ATL0":
		s.Linefeeds = false
		return "OK"
	case "ATL1":
		s.Linefeeds = true
		return "OK"
	case "ATS0":
		s.Spaces = false
		return "OK"
	case "ATS1":
		s.Spaces = true
		return "OK"
	case "ATH0":
		s.Headers = false
		return "OK"
	case "ATH1":
		s.Headers = true
		return "OK"
	case "ATI":
		return Identity
	case "AT@1":
		return s.deviceDescription()
	}

	switch {
	case strings.HasPrefix(upper, "ATSP"), strings.HasPrefix(upper, "ATST"), strings.HasPrefix(upper, "ATAT"):
		return "OK"
	default:
		return "?"
	}
}

// deviceDescription is AT@1's reply body; device-specific text is
// implementation-chosen per spec §4.2.
func (s *Session) deviceDescription() string {
	return "TachTalk OBD2 Proxy"
}

// FormatResponse applies the session's space-insertion policy to a raw,
// compact-hex dongle response line. When Spaces is on, a space is inserted
// between every pair of ASCII hex digits, and the pairing counter resets on
// any non-hex byte (so line endings and the prompt byte don't get counted).
// Non-hex bytes always pass through unchanged. When Spaces is off, raw is
// returned unmodified.
func (s *Session) FormatResponse(raw []byte) []byte {
	if !s.Spaces {
		return raw
	}

	out := make([]byte, 0, len(raw)*3/2)
	hexCount := 0
	for _, b := range raw {
		if isHexDigit(b) {
			if hexCount > 0 && hexCount%2 == 0 {
				out = append(out, ' ')
			}
			hexCount++
		} else {
			hexCount = 0
		}
		out = append(out, b)
	}
	return out
}

// HeaderPrefix returns the ECU header prefix to prepend to a response line
// when Headers is on: "7E8 LL " with spaces, "7E8LL" without, where LL is
// the data byte count of the line in hex. The mock/test surface uses 7E8 as
// the canonical ECM responder, per spec §4.2.
func (s *Session) HeaderPrefix(dataByteCount int) string {
	hex := byteLenHex(dataByteCount)
	if s.Spaces {
		return "7E8 " + hex + " "
	}
	return "7E8" + hex
}

func byteLenHex(n int) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{hexDigits[(n>>4)&0xF], hexDigits[n&0xF]})
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F') || (b >= 'a' && b <= 'f')
}
