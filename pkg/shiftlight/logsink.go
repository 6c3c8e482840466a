package shiftlight

import (
	"image/color"

	"github.com/sirupsen/logrus"
)

// LogSink is a no-op LedSink that logs the rendered frame instead of driving
// real hardware, per spec's "failure to initialize the LED transport at boot
// yields a no-op LED sink rather than aborting" — the demo command never
// wires real WS2812/APA102 hardware (out of scope per spec.md §1), so this
// is the sink it uses in its place.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink returns a LedSink that logs every frame at debug level.
func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log}
}

// Write implements LedSink.
func (s *LogSink) Write(leds []color.RGBA, brightness byte) error {
	if s.log == nil {
		return nil
	}
	s.log.WithFields(logrus.Fields{
		"leds":       len(leds),
		"brightness": brightness,
	}).Debug("led frame rendered")
	return nil
}
