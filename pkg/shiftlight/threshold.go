// Package shiftlight implements the pure RPM-and-time -> LED color mapping
// at the heart of the shift-light display: cumulative thresholds,
// proportional lighting, mirror ranges, gradient interpolation, independent
// blink periods, and a GCD-derived render-tick interval. Grounded bit-for-bit
// on tachtalk-shift-lights-lib's compute_led_state/interpolate_color/
// compute_leds_to_light/compute_render_interval.
package shiftlight

import "image/color"

// DefaultBlinkMS is used when a threshold has blink=true but no explicit
// blink_ms, matching the original's default_colors()/blink fallback.
const DefaultBlinkMS = 500

// Threshold is a single shift-light rule: light a contiguous LED range with
// a color or gradient once RPM reaches rpm_lower, optionally blinking,
// optionally proportional between rpm_lower and rpm_upper.
type Threshold struct {
	Name      string
	RPMLower  uint32
	RPMUpper  uint32 // 0 means absent/disabled (proportional lighting off)
	StartLED  int
	EndLED    int
	Colors    []color.RGBA // at least 1; default_colors() == solid red
	Blink     bool
	BlinkMS   uint32
}

// DefaultColors returns the original's default_colors(): solid red.
func DefaultColors() []color.RGBA {
	return []color.RGBA{{R: 255, G: 0, B: 0, A: 255}}
}
