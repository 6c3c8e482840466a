// Package proxy implements the per-client-connection front end (C6): one
// task per accepted TCP connection that speaks the ELM327 text protocol,
// consulting the PID cache and forwarding to the dongle on miss. Grounded
// on spec §4.6; per-connection correlation IDs via rs/xid follow the
// teacher's cmd/exporter_example2 per-connection labeling convention.
package proxy

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/tachtalk/tachtalk/pkg/cache"
	"github.com/tachtalk/tachtalk/pkg/capture"
	"github.com/tachtalk/tachtalk/pkg/elm327"
	"github.com/tachtalk/tachtalk/pkg/netstat"
)

// Forwarder is the narrow capability a session uses to reach the dongle on
// a cache miss.
type Forwarder interface {
	Send(ctx context.Context, cmd string) ([]byte, error)
}

// RPMPublisher is the narrow capability a session uses to publish an
// extracted RPM value onto the telemetry/render bus (fed on to C7/C3/C8).
type RPMPublisher interface {
	PublishRPM(rpm uint32)
}

// Counter is the narrow capability a session uses to report cache hit/miss
// counts (satisfied directly by a prometheus.Counter).
type Counter interface {
	Inc()
}

// Gauge is the narrow capability used to report fast/slow queue depths
// (satisfied directly by a prometheus.Gauge).
type Gauge interface {
	Set(float64)
}

// Server accepts client connections and spawns a Session per connection.
type Server struct {
	listenAddr string
	cache      *cache.Cache
	forwarder  Forwarder
	recorder   *capture.Recorder
	rpm        RPMPublisher
	log        *logrus.Entry

	cacheHits, cacheMisses Counter
	fastQueue, slowQueue   Gauge
}

// NewServer returns a Server ready to Run.
func NewServer(listenAddr string, c *cache.Cache, fwd Forwarder, recorder *capture.Recorder, rpm RPMPublisher, log *logrus.Entry) *Server {
	return &Server{listenAddr: listenAddr, cache: c, forwarder: fwd, recorder: recorder, rpm: rpm, log: log}
}

// WithCacheMetrics attaches Prometheus hit/miss counters and queue-depth
// gauges; safe to skip (they default to no-op) when metrics aren't wired.
func (s *Server) WithCacheMetrics(hits, misses Counter, fastQueue, slowQueue Gauge) *Server {
	s.cacheHits, s.cacheMisses = hits, misses
	s.fastQueue, s.slowQueue = fastQueue, slowQueue
	return s
}

// Run listens and serves client connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	id := xid.New().String()
	log := s.log.WithField("conn_id", id).WithField("remote", conn.RemoteAddr().String())
	log.Info("client connected")

	wrapped := netstat.Wrap(conn, netstat.RoleClient, netstat.LogReporter(log))
	defer func() {
		wrapped.Close()
		log.Info("client disconnected")
	}()

	sess := newSession(wrapped, s.cache, s.forwarder, s.recorder, s.rpm, log)
	sess.cacheHits, sess.cacheMisses = s.cacheHits, s.cacheMisses
	sess.fastQueue, sess.slowQueue = s.fastQueue, s.slowQueue
	sess.run(ctx)
}

// session holds one client connection's command buffer, ELM327 toggles,
// and last-command memory for the "1\r" repeat optimization.
type session struct {
	conn      net.Conn
	elm       *elm327.Session
	cache     *cache.Cache
	forwarder Forwarder
	recorder  *capture.Recorder
	rpm       RPMPublisher
	log       *logrus.Entry

	cacheHits, cacheMisses Counter
	fastQueue, slowQueue   Gauge

	lastCommand string
}

func newSession(conn net.Conn, c *cache.Cache, fwd Forwarder, recorder *capture.Recorder, rpm RPMPublisher, log *logrus.Entry) *session {
	return &session{
		conn:      conn,
		elm:       elm327.NewSession(),
		cache:     c,
		forwarder: fwd,
		recorder:  recorder,
		rpm:       rpm,
		log:       log,
	}
}

func (s *session) run(ctx context.Context) {
	r := bufio.NewReader(s.conn)
	var buf strings.Builder

	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		if b == '\n' {
			continue
		}
		if b != '\r' {
			buf.WriteByte(b)
			continue
		}

		cmd := buf.String()
		buf.Reset()
		s.handleLine(ctx, cmd)
	}
}

func (s *session) handleLine(ctx context.Context, raw string) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))

	if s.recorder != nil && trimmed != "" {
		s.recorder.Record(capture.RecordClientToDongle, []byte(raw))
	}

	switch elm327.Classify(trimmed) {
	case elm327.CommandEmpty:
		s.write([]byte(">"))

	case elm327.CommandAT:
		resp := s.elm.HandleAT(trimmed)
		s.write(resp)

	case elm327.CommandOBD:
		if trimmed == "1" {
			if s.lastCommand == "" {
				s.write([]byte(s.elm.LineEnding() + "?" + s.elm.LineEnding() + ">"))
				return
			}
			trimmed = s.lastCommand
		} else {
			s.lastCommand = trimmed
		}
		s.handleOBD(ctx, trimmed)
	}
}

func (s *session) handleOBD(ctx context.Context, cmd string) {
	s.cache.Touch(cmd)

	if s.fastQueue != nil || s.slowQueue != nil {
		fast, slow := s.cache.QueueDepths()
		if s.fastQueue != nil {
			s.fastQueue.Set(float64(fast))
		}
		if s.slowQueue != nil {
			s.slowQueue.Set(float64(slow))
		}
	}

	resp, status := s.cache.Lookup(cmd)
	switch status {
	case cache.StatusUnsupported:
		s.write([]byte(s.elm.LineEnding() + "NO DATA" + s.elm.LineEnding() + ">"))
		return

	case cache.StatusHit:
		if s.cacheHits != nil {
			s.cacheHits.Inc()
		}
		s.emitResponse(cmd, resp)
		return

	case cache.StatusMiss:
		if s.cacheMisses != nil {
			s.cacheMisses.Inc()
		}
		tctx, cancel := context.WithTimeout(ctx, 4500*time.Millisecond)
		raw, err := s.forwarder.Send(tctx, cmd)
		cancel()
		if err != nil {
			s.write([]byte(s.elm.LineEnding() + "NO DATA" + s.elm.LineEnding() + ">"))
			return
		}
		resp = s.cache.Update(cmd, raw)
		s.emitResponse(cmd, resp)
	}
}

func (s *session) emitResponse(cmd string, resp cache.CachedResponse) {
	out := cache.FormatCachedForClient(resp, s.elm)
	s.write(out)

	if elm327.Canonicalize(cmd) == cache.RPMPid {
		for _, line := range resp {
			if rpm, ok := elm327.ExtractRPM(line); ok && s.rpm != nil {
				s.rpm.PublishRPM(rpm)
				break
			}
		}
	}
}

func (s *session) write(b []byte) {
	if s.recorder != nil {
		s.recorder.Record(capture.RecordDongleToClient, b)
	}
	s.conn.Write(b)
}
