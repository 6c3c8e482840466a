package capture

import (
	"errors"
	"net"
	"sync"

	"github.com/tachtalk/tachtalk/pkg/clock"
)

// Mode selects the recorder's behavior once its ring buffer is full.
type Mode int

const (
	// ModeStop disables further recording once the buffer can't hold the
	// next record, flagging overflow but preserving everything captured so
	// far.
	ModeStop Mode = iota
	// ModeWrap discards the oldest whole records to make room for new ones,
	// flagging overflow the first time that happens.
	ModeWrap
)

const (
	// DefaultCapacity is the default ring buffer size in bytes.
	DefaultCapacity = 4 * 1024 * 1024
	// MinCapacity is the smallest capacity an operator may configure.
	MinCapacity = 1 * 1024 * 1024
	// MaxCapacity is the largest capacity an operator may configure.
	MaxCapacity = 6 * 1024 * 1024
)

// ErrBusy is returned by Download and Clear while recording is active.
var ErrBusy = errors.New("capture: recorder busy")

// Recorder is a bounded ring buffer of framed capture records, mirroring
// proxy traffic tapped from the client and dongle connections (C6/C4) into a
// downloadable ".ttcap" file. It owns the process-wide capture buffer
// described in spec §3's lifecycle notes: contents persist across
// connections and are only cleared on explicit operator request while
// stopped.
type Recorder struct {
	mu    sync.Mutex
	clock clock.Clock

	capacity int
	mode     Mode

	records  [][]byte
	dataLen  int
	running  bool
	disabled bool // Stop-mode-only: true once overflow has silenced further writes
	flags    uint16

	startMS         int64
	dongleIP        [4]byte
	donglePort      uint16
	firmwareVersion string
}

// clampCapacity enforces [MinCapacity, MaxCapacity], matching spec §4.9's
// operator-configurable bound.
func clampCapacity(capacity int) int {
	switch {
	case capacity < MinCapacity:
		return MinCapacity
	case capacity > MaxCapacity:
		return MaxCapacity
	default:
		return capacity
	}
}

// NewRecorder returns a stopped recorder with the given capacity (clamped to
// [MinCapacity, MaxCapacity]) in ModeStop.
func NewRecorder(capacity int, c clock.Clock) *Recorder {
	return &Recorder{
		clock:    c,
		capacity: clampCapacity(capacity),
		mode:     ModeStop,
	}
}

// SetMode changes the overflow policy. Safe to call while running.
func (r *Recorder) SetMode(m Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
}

// IsRunning reports whether the recorder is actively accepting records.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins a new capture, resetting any previous buffer contents.
// dongleIP/donglePort/firmwareVersion are stamped into the header at
// Download time.
func (r *Recorder) Start(dongleIP net.IP, donglePort uint16, firmwareVersion string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
	r.dataLen = 0
	r.flags = 0
	r.disabled = false
	r.running = true
	r.startMS = r.clock.NowMS()
	r.donglePort = donglePort
	r.firmwareVersion = firmwareVersion
	if v4 := dongleIP.To4(); v4 != nil {
		copy(r.dongleIP[:], v4)
	} else {
		r.dongleIP = [4]byte{}
	}
}

// Stop ends the current capture; the buffer is left intact for Download.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

// Record appends a framed record to the buffer, applying the configured
// overflow policy. It is silently a no-op when the recorder isn't running,
// matching the "tees proxy traffic" contract: producing tasks (C4/C6) call
// this unconditionally and never see an error from it.
func (r *Recorder) Record(t RecordType, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running || r.disabled {
		return
	}

	timestampMS := uint32(r.clock.NowMS() - r.startMS)
	buf := encodeRecord(timestampMS, t, data)
	needed := len(buf)

	switch r.mode {
	case ModeStop:
		if r.remainingLocked() < needed {
			r.flags |= FlagOverflow
			r.disabled = true
			return
		}
		r.appendLocked(buf)
	case ModeWrap:
		for r.remainingLocked() < needed && len(r.records) > 0 {
			r.evictOldestLocked()
			r.flags |= FlagOverflow
		}
		if needed > r.capacity {
			// A single record larger than the whole buffer can never fit.
			r.flags |= FlagOverflow
			return
		}
		r.appendLocked(buf)
	}
}

func (r *Recorder) remainingLocked() int {
	return r.capacity - r.dataLen
}

func (r *Recorder) appendLocked(buf []byte) {
	r.records = append(r.records, buf)
	r.dataLen += len(buf)
}

func (r *Recorder) evictOldestLocked() {
	oldest := r.records[0]
	r.records = r.records[1:]
	r.dataLen -= len(oldest)
}

// Download exports the header plus every retained record, in order. It
// fails with ErrBusy while recording is active, per spec §4.9.
func (r *Recorder) Download() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, ErrBusy
	}

	h := Header{
		RecordCount:     uint32(len(r.records)),
		DataLength:      uint32(r.dataLen),
		CaptureStartMS:  uint64(r.startMS),
		DongleIP:        r.dongleIP,
		DonglePort:      r.donglePort,
		Flags:           r.flags,
		FirmwareVersion: r.firmwareVersion,
	}
	headerBytes := EncodeHeader(h)

	out := make([]byte, 0, HeaderSize+r.dataLen)
	out = append(out, headerBytes[:]...)
	for _, rec := range r.records {
		out = append(out, rec...)
	}
	return out, nil
}

// Clear resets the buffer, counters, and flags. It fails with ErrBusy while
// recording is active, per spec §4.9.
func (r *Recorder) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrBusy
	}
	r.records = nil
	r.dataLen = 0
	r.flags = 0
	r.disabled = false
	return nil
}

// Utilization returns the fraction of capacity currently in use, for the
// Prometheus gauge wired in pkg/metrics.
func (r *Recorder) Utilization() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity == 0 {
		return 0
	}
	return float64(r.dataLen) / float64(r.capacity)
}

// Overflowed reports whether FlagOverflow is currently set.
func (r *Recorder) Overflowed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags&FlagOverflow != 0
}
