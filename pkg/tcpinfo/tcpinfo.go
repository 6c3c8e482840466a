// Package tcpinfo snapshots kernel TCP_INFO socket diagnostics for the one
// class of link TachTalk actually needs to watch at that level: the
// dongle's often-flaky WiFi connection (and, for the same log line shape,
// each proxied scan-tool client socket). TachTalk's proxy daemon only ever
// runs on Linux next to the dongle, so this package reports real data there
// and degrades to "unsupported" everywhere else, rather than carrying a
// full cross-platform TCP_INFO parser for targets it never runs on.
package tcpinfo

import (
	"errors"
	"time"
)

// errUnsupported is returned by Snapshot on platforms with no TCP_INFO
// accessor wired up.
var errUnsupported = errors.New("tcpinfo: unsupported platform")

// Info is the small subset of kernel TCP_INFO fields worth logging or
// exporting for connection diagnostics.
type Info struct {
	State       string
	RTT         time.Duration
	RTTVar      time.Duration
	RTO         time.Duration
	Retransmits uint32
}
