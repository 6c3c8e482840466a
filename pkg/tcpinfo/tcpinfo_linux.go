//go:build linux

package tcpinfo

import (
	"time"

	"golang.org/x/sys/unix"
)

// tcpStateNames mirrors include/net/tcp_states.h; only used for the log
// line, so unknown/future states just fall back to "UNKNOWN" rather than
// needing a kernel-version table to stay in sync.
var tcpStateNames = map[uint8]string{
	1:  "ESTABLISHED",
	2:  "SYN_SENT",
	3:  "SYN_RECV",
	4:  "FIN_WAIT1",
	5:  "FIN_WAIT2",
	6:  "TIME_WAIT",
	7:  "CLOSE",
	8:  "CLOSE_WAIT",
	9:  "LAST_ACK",
	10: "LISTEN",
	11: "CLOSING",
	12: "NEW_SYN_RECV",
}

// Supported reports whether this platform can snapshot TCP_INFO.
func Supported() bool {
	return true
}

// Snapshot reads TCP_INFO for the socket behind fd. golang.org/x/sys/unix's
// TCPInfo struct and GetsockoptTCPInfo handle any kernel-version skew in
// struct tcp_info's size themselves (the kernel fills in what it supports
// and leaves the rest zeroed), so no local kernel-version-to-struct-size
// table is needed here.
func Snapshot(fd uintptr) (*Info, error) {
	raw, err := unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return nil, err
	}

	name, ok := tcpStateNames[raw.State]
	if !ok {
		name = "UNKNOWN"
	}

	return &Info{
		State:       name,
		RTT:         time.Duration(raw.Rtt) * time.Microsecond,
		RTTVar:      time.Duration(raw.Rttvar) * time.Microsecond,
		RTO:         time.Duration(raw.Rto) * time.Microsecond,
		Retransmits: raw.Total_retrans,
	}, nil
}
