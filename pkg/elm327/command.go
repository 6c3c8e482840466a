package elm327

import "strings"

// CommandKind classifies an upper-cased, trimmed OBD command line.
type CommandKind int

const (
	// CommandEmpty is a bare terminator with no preceding bytes.
	CommandEmpty CommandKind = iota
	// CommandAT is a local AT command (prefix "AT" or "@").
	CommandAT
	// CommandOBD is a mode/PID request forwarded to the cache/dongle.
	CommandOBD
)

// Classify determines the kind of a trimmed, upper-cased command string.
func Classify(cmd string) CommandKind {
	switch {
	case cmd == "":
		return CommandEmpty
	case strings.HasPrefix(cmd, "AT") || strings.HasPrefix(cmd, "@"):
		return CommandAT
	default:
		return CommandOBD
	}
}

// Canonicalize puts an OBD-PID command into its canonical cache key form:
// upper-cased hex with a trailing " 1" (a single expected response, the
// default) stripped, since it's equivalent to no count suffix at all.
// Commands with another explicit response count (e.g. " 2") are left
// as-is, since they request a different number of ECU replies.
func Canonicalize(cmd string) string {
	upper := strings.ToUpper(strings.TrimSpace(cmd))
	if strings.HasSuffix(upper, " 1") {
		return upper[:len(upper)-2]
	}
	return upper
}
