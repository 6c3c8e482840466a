// Package netstat wraps the proxy's two kinds of long-lived TCP connections
// -- the client-facing scan-tool socket and the upstream ELM327 dongle
// socket -- so their lifecycle and byte counters can be logged and fed into
// Prometheus. It is grounded on the teacher's sockstats.Conn/conniver
// wrap.go connection wrappers, generalized from a single undifferentiated
// net.Conn wrapper into one that also tags each connection with a Role
// (client vs dongle) for TachTalk's two distinct link types.
package netstat

import (
	"net"
	"time"

	"github.com/tachtalk/tachtalk/pkg/tcpinfo"
)

// State identifies which lifecycle event triggered a report.
type State int

const (
	Opened State = iota
	Closed
)

var StateMap = map[State]string{
	Opened: "open",
	Closed: "close",
}

// Role distinguishes the two kinds of connection TachTalk ever wraps.
type Role string

const (
	RoleClient Role = "client"
	RoleDongle Role = "dongle"
)

// ReportFn is invoked once per lifecycle event with the wrapped connection.
type ReportFn func(c *Conn, state State)

// Conn wraps a net.Conn, tracking byte counters, first/last activity
// timestamps and point-in-time TCP_INFO snapshots for open and close
// events.
type Conn struct {
	net.Conn

	Role Role

	reportStats ReportFn
	OpenedAt    int64
	ClosedAt    int64
	FirstRxAt   int64
	FirstTxAt   int64
	LastRxAt    int64
	LastTxAt    int64
	RxBytes     int64
	TxBytes     int64
	RxErr       error
	TxErr       error
	InfoErr     error
	Reconnects  int
	OpenedInfo  *tcpinfo.Info
	ClosedInfo  *tcpinfo.Info

	supportsTCPInfo bool
	closedInfoDone  bool
}

// Wrap wraps ncon, immediately reports an Opened event, and returns the
// wrapped connection. Reads and writes update the byte counters; Close
// reports a Closed event (gathering a fresh TCP_INFO snapshot) before
// delegating to the underlying connection.
func Wrap(ncon net.Conn, role Role, report ReportFn) *Conn {
	w := &Conn{
		Conn:            ncon,
		Role:            role,
		reportStats:     report,
		OpenedAt:        time.Now().UnixNano(),
		supportsTCPInfo: tcpinfo.Supported(),
	}
	w.gatherAndReport(Opened)
	return w
}

func (w *Conn) gatherAndReport(state State) {
	if w.reportStats == nil {
		return
	}
	if state == Closed && w.closedInfoDone {
		return
	}
	if state == Closed {
		w.closedInfoDone = true
	}

	defer w.reportStats(w, state)

	if !w.supportsTCPInfo || w.InfoErr != nil {
		return
	}

	tcpConn, ok := w.Conn.(*net.TCPConn)
	if !ok {
		return
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}

	var info *tcpinfo.Info
	if err := rawConn.Control(func(fd uintptr) {
		info, err = tcpinfo.Snapshot(fd)
	}); err != nil {
		w.InfoErr = err
		return
	}
	if err != nil {
		w.InfoErr = err
		return
	}

	switch state {
	case Opened:
		w.OpenedInfo = info
	case Closed:
		w.ClosedInfo = info
	}
}

// SetReconnects records how many dial attempts preceded a successful
// connection, for reporting in the next lifecycle event.
func (w *Conn) SetReconnects(n int) {
	w.Reconnects = n
}

// Close reports a Closed event before delegating to the underlying
// connection's Close.
func (w *Conn) Close() error {
	w.ClosedAt = time.Now().UnixNano()
	w.gatherAndReport(Closed)
	return w.Conn.Close()
}

func (w *Conn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	if err == nil && n > 0 {
		ts := time.Now().UnixNano()
		if w.FirstRxAt == 0 {
			w.FirstRxAt = ts
		}
		w.LastRxAt = ts
	}
	w.RxBytes += int64(n)
	if netErr, ok := err.(net.Error); ok && !netErr.Timeout() {
		w.RxErr = err
	}
	return n, err
}

func (w *Conn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	if err == nil && n > 0 {
		ts := time.Now().UnixNano()
		if w.FirstTxAt == 0 {
			w.FirstTxAt = ts
		}
		w.LastTxAt = ts
	}
	w.TxBytes += int64(n)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && !netErr.Timeout() {
			w.TxErr = err
		} else if _, ok := err.(net.Error); !ok {
			w.TxErr = err
		}
	}
	return n, err
}
