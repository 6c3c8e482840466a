// Package dongle owns the single long-lived TCP connection to the WiFi
// OBD-II dongle: connect/init/reconnect, the FIFO single-in-flight request
// queue (synchronous or fire-and-forget), and the post-connect supported-PID
// probe. Grounded on spec §4.4 and, for the request-serialization shape, on
// the teacher's single-owner net.Conn pattern in wrap.go/sockstats.go.
package dongle

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tachtalk/tachtalk/pkg/cache"
	"github.com/tachtalk/tachtalk/pkg/capture"
	"github.com/tachtalk/tachtalk/pkg/metrics"
	"github.com/tachtalk/tachtalk/pkg/netstat"
)

// Timing constants from spec §4.4/§5.
const (
	ReconnectDelay    = time.Second
	DefaultTimeout    = 4500 * time.Millisecond
	MaxTimeout        = 4500 * time.Millisecond
	initCommandPrompt = '>'
)

// initSequence is replayed on every fresh connect: echo/linefeeds/spaces/
// headers off give maximal compactness on the wire. The per-client view of
// toggles is maintained independently by elm327.Session; the dongle always
// speaks compact form.
var initSequence = []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH0"}

// ErrUnavailable is returned to callers when the dongle connection could
// not be established or a request could not be completed.
var ErrUnavailable = errors.New("dongle: unavailable")

// onResponse is invoked for every completed request, sync or fire-and-forget,
// so a single code path updates the cache and republishes RPM.
type onResponse func(cmd string, raw []byte, err error)

type request struct {
	cmd     string
	replyCh chan result
}

type result struct {
	raw []byte
	err error
}

// Dongle serializes all traffic to (host, port) through one owner goroutine,
// started by Run. Only one request is ever in flight.
type Dongle struct {
	addr    string
	timeout time.Duration

	recorder      *capture.Recorder
	supported     *cache.SupportedPIDs
	linkCollector *metrics.DongleLinkCollector
	onResp        onResponse
	log           *logrus.Entry

	reqCh chan request

	mu        sync.Mutex
	connected bool
	attempts  int
}

// New returns a Dongle ready to Run. onResp is called with every completed
// request's raw reply (or error), for both synchronous and fire-and-forget
// submissions — the cache/scheduler is the usual subscriber. linkCollector
// may be nil; when set it is handed the live dongle net.Conn for kernel
// TCP_INFO diagnostics (pkg/metrics, C4).
func New(addr string, timeout time.Duration, recorder *capture.Recorder, supported *cache.SupportedPIDs, linkCollector *metrics.DongleLinkCollector, log *logrus.Entry, onResp onResponse) *Dongle {
	if timeout <= 0 || timeout > MaxTimeout {
		if log != nil {
			log.WithField("requested_ms", timeout.Milliseconds()).Warn("obd2 timeout clamped to maximum")
		}
		timeout = MaxTimeout
	}
	return &Dongle{
		addr:          addr,
		timeout:       timeout,
		recorder:      recorder,
		supported:     supported,
		linkCollector: linkCollector,
		onResp:        onResp,
		log:           log,
		reqCh:         make(chan request, 256),
	}
}

// Connected reports whether the owner goroutine currently holds a live
// connection (best-effort, racy by nature of an async owner).
func (d *Dongle) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Dongle) setConnected(v bool) {
	d.mu.Lock()
	d.connected = v
	d.mu.Unlock()
}

// Send submits cmd and blocks for its reply, subject to ctx cancellation.
func (d *Dongle) Send(ctx context.Context, cmd string) ([]byte, error) {
	req := request{cmd: cmd, replyCh: make(chan result, 1)}
	select {
	case d.reqCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.replyCh:
		return res.raw, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendAsync submits cmd fire-and-forget: the caller never blocks, and the
// reply (or error) only reaches onResp, the Dongle's shared response
// handler. Used by the autonomous poller so the LED task never blocks.
func (d *Dongle) SendAsync(cmd string) {
	select {
	case d.reqCh <- request{cmd: cmd}:
	default:
		if d.log != nil {
			d.log.WithField("cmd", cmd).Warn("dongle request queue full, dropping poll")
		}
	}
}

// Run is the owner loop: connect, replay the init sequence, probe supported
// PIDs, then service reqCh strictly FIFO until ctx is cancelled, reconnecting
// with ReconnectDelay backoff on any I/O failure.
func (d *Dongle) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, reader, err := d.connect(ctx)
		if err != nil {
			d.attempts++
			d.log.WithError(err).Warn("dongle connect failed, retrying")
			if !sleepCtx(ctx, ReconnectDelay) {
				return
			}
			continue
		}

		d.serve(ctx, conn, reader)
		if !sleepCtx(ctx, ReconnectDelay) {
			return
		}
	}
}

func (d *Dongle) connect(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, nil, err
	}

	if d.linkCollector != nil {
		d.linkCollector.SetConn(rawConn)
	}

	conn := netstat.Wrap(rawConn, netstat.RoleDongle, netstat.LogReporter(d.log))
	conn.SetReconnects(d.attempts)
	reader := bufio.NewReader(conn)

	if d.recorder != nil {
		if !d.recorder.IsRunning() {
			if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
				d.recorder.Start(tcpAddr.IP, uint16(tcpAddr.Port), "")
			}
		}
		d.recorder.Record(capture.RecordConnect, nil)
	}

	for _, cmd := range initSequence {
		if _, err := d.roundTrip(conn, reader, cmd); err != nil {
			conn.Close()
			return nil, nil, err
		}
	}

	if d.supported != nil {
		for i, q := range cache.SupportedPIDQueries {
			raw, err := d.roundTrip(conn, reader, q)
			if err != nil {
				conn.Close()
				return nil, nil, err
			}
			d.supported.Record(i, raw)
		}
	}

	d.attempts = 0
	d.setConnected(true)
	d.log.WithField("addr", d.addr).Info("dongle connected and ready")
	return conn, reader, nil
}

func (d *Dongle) serve(ctx context.Context, conn net.Conn, reader *bufio.Reader) {
	defer func() {
		conn.Close()
		d.setConnected(false)
		if d.linkCollector != nil {
			d.linkCollector.SetConn(nil)
		}
		if d.supported != nil {
			d.supported.Reset()
		}
		if d.recorder != nil {
			d.recorder.Record(capture.RecordDisconnect, nil)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.reqCh:
			raw, err := d.roundTrip(conn, reader, req.cmd)
			if d.onResp != nil {
				d.onResp(req.cmd, raw, err)
			}
			if req.replyCh != nil {
				req.replyCh <- result{raw: raw, err: err}
			}
			if err != nil {
				return
			}
		}
	}
}

// roundTrip appends '\r' to cmd, writes it, reads up to the next '>' prompt
// byte, strips the prompt, and returns the raw bytes between. It also mirrors
// both directions into the capture recorder, if active.
func (d *Dongle) roundTrip(conn net.Conn, reader *bufio.Reader, cmd string) ([]byte, error) {
	payload := []byte(cmd + "\r")
	if d.recorder != nil {
		d.recorder.Record(capture.RecordClientToDongle, payload)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return nil, err
	}

	raw, err := readUntilPrompt(reader)
	if d.recorder != nil && len(raw) > 0 {
		d.recorder.Record(capture.RecordDongleToClient, raw)
	}
	return raw, err
}

func readUntilPrompt(r *bufio.Reader) ([]byte, error) {
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return out, err
		}
		if b == initCommandPrompt {
			return out, nil
		}
		out = append(out, b)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
