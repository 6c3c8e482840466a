// Package rpmled implements the RPM/LED task: the single consumer of RPM
// updates, config changes, and brightness changes that drives the
// shift-light engine and the LED sink. Grounded directly on
// tachtalk-firmware/src/rpm_leds.rs's rpm_led_task, including its
// wall-clock-aligned deadline arithmetic and dual blink/idle-poll timeout.
package rpmled

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tachtalk/tachtalk/pkg/clock"
	"github.com/tachtalk/tachtalk/pkg/shiftlight"
)

// IdlePollInterval is how often the task polls 010C when no client is active.
const IdlePollInterval = 100 * time.Millisecond

// ClientActivityBackoff is how long after the last client-published RPM the
// task waits before resuming its own idle polling.
const ClientActivityBackoff = 2 * time.Second

// MessageKind distinguishes the task's three input events.
type MessageKind int

const (
	// MsgRPM carries an RPM update, from a client request or an idle poll.
	MsgRPM MessageKind = iota
	// MsgConfigChanged asks the task to recompute its render interval.
	MsgConfigChanged
	// MsgBrightness carries a new global brightness (0-255).
	MsgBrightness
)

// Message is one event delivered to the task's channel.
type Message struct {
	Kind       MessageKind
	RPM        uint32
	Brightness byte
}

// Poller is the narrow capability the task uses to keep RPM current when no
// client has asked recently: a fire-and-forget 010C request.
type Poller interface {
	SendAsync(cmd string)
}

// Publisher is the narrow capability the task uses to republish RPM to SSE
// subscribers.
type Publisher interface {
	Publish(rpm uint32)
}

// Config is the live shift-light configuration the task renders against.
type Config struct {
	Thresholds []shiftlight.Threshold
	TotalLEDs  int
}

// Task owns the render loop. It is not safe for concurrent use; drive it
// from a single goroutine via Run, and send it events via its channel.
type Task struct {
	Messages chan Message

	clock     clock.Clock
	sink      shiftlight.LedSink
	poller    Poller
	publisher Publisher
	log       *logrus.Entry

	config     Config
	brightness byte

	currentRPM      *uint32
	lastRenderedRPM *uint32
	lastClientRPMAt int64
	lastPollAt      int64
	blinkIntervalMS uint32
	hasBlinkMS      bool
}

// New returns a Task with the given initial config, with its render
// interval already computed from cfg's thresholds.
func New(c clock.Clock, sink shiftlight.LedSink, poller Poller, publisher Publisher, log *logrus.Entry, cfg Config) *Task {
	t := &Task{
		Messages:   make(chan Message, 32),
		clock:      c,
		sink:       sink,
		poller:     poller,
		publisher:  publisher,
		log:        log,
		config:     cfg,
		brightness: 255,
	}
	t.recomputeBlinkInterval()
	return t
}

func (t *Task) recomputeBlinkInterval() {
	ms, ok := shiftlight.RenderInterval(t.config.Thresholds)
	t.blinkIntervalMS = ms
	t.hasBlinkMS = ok
}

// SetConfig updates the rendered thresholds/LED count; callers should also
// send MsgConfigChanged so Run recomputes its render interval promptly.
func (t *Task) SetConfig(cfg Config) {
	t.config = cfg
}

// Run drives the task until ctx is cancelled. It aligns wake-ups to the
// nearer of the blink deadline (if any threshold blinks) and the idle-poll
// interval, rendering on RPM/config/brightness changes and on blink deadlines,
// and firing an idle 010C poll when no client has been active recently.
func (t *Task) Run(ctx context.Context) {
	for {
		timeout, renderOnTimeout := t.nextTimeout()

		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case msg := <-t.Messages:
			timer.Stop()
			t.handleMessage(msg)

		case <-timer.C:
			if renderOnTimeout {
				t.render()
			}
			t.maybeIdlePoll()
		}
	}
}

func (t *Task) nextTimeout() (time.Duration, bool) {
	if !t.hasBlinkMS {
		return IdlePollInterval, false
	}

	blinkMS := t.timeUntilNextDeadline(t.blinkIntervalMS)
	if blinkMS < IdlePollInterval {
		return blinkMS, true
	}
	return IdlePollInterval, false
}

// timeUntilNextDeadline aligns to the next wall-clock multiple of
// intervalMS, so blink phases are globally synchronized across reboots.
func (t *Task) timeUntilNextDeadline(intervalMS uint32) time.Duration {
	now := t.clock.NowMS()
	rem := intervalMS - uint32(now%int64(intervalMS))
	return time.Duration(rem) * time.Millisecond
}

func (t *Task) handleMessage(msg Message) {
	switch msg.Kind {
	case MsgRPM:
		t.lastClientRPMAt = t.clock.NowMS()
		if t.currentRPM == nil || *t.currentRPM != msg.RPM {
			rpm := msg.RPM
			t.currentRPM = &rpm
			t.render()
		}

	case MsgConfigChanged:
		t.recomputeBlinkInterval()
		t.render()

	case MsgBrightness:
		t.brightness = msg.Brightness
		t.render()
	}
}

func (t *Task) maybeIdlePoll() {
	now := t.clock.NowMS()
	clientIdle := t.lastClientRPMAt == 0 || time.Duration(now-t.lastClientRPMAt)*time.Millisecond >= ClientActivityBackoff
	pollDue := t.lastPollAt == 0 || time.Duration(now-t.lastPollAt)*time.Millisecond >= IdlePollInterval

	if clientIdle && pollDue {
		t.lastPollAt = now
		t.poller.SendAsync("010C")
	}
}

func (t *Task) render() {
	if t.currentRPM == nil {
		return
	}
	rpm := *t.currentRPM

	if t.lastRenderedRPM == nil || *t.lastRenderedRPM != rpm {
		t.publisher.Publish(rpm)
		r := rpm
		t.lastRenderedRPM = &r
	}

	leds, _ := shiftlight.Compute(rpm, t.config.Thresholds, t.config.TotalLEDs, t.clock.NowMS())
	final := shiftlight.ApplyGamma(leds, t.brightness)
	if err := t.sink.Write(final, t.brightness); err != nil && t.log != nil {
		t.log.WithError(err).Warn("led sink write failed")
	}
}
