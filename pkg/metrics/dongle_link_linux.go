//go:build linux

package metrics

import (
	"net"

	"github.com/higebu/netfd"

	"github.com/tachtalk/tachtalk/pkg/tcpinfo"
)

// linkInfo is the small subset of kernel TCP_INFO fields worth exporting for
// dongle-link diagnostics.
type linkInfo struct {
	RTTMicros    uint32
	RTTVarMicros uint32
	Retransmits  uint32
}

// dongleLinkInfo reads kernel TCP_INFO for conn via pkg/tcpinfo, to
// diagnose the flaky WiFi link to the dongle rather than generic
// connection observability.
func dongleLinkInfo(conn net.Conn) (linkInfo, bool) {
	fd := netfd.GetFdFromConn(conn)
	info, err := tcpinfo.Snapshot(uintptr(fd))
	if err != nil {
		return linkInfo{}, false
	}

	return linkInfo{
		RTTMicros:    uint32(info.RTT.Microseconds()),
		RTTVarMicros: uint32(info.RTTVar.Microseconds()),
		Retransmits:  info.Retransmits,
	}, true
}
