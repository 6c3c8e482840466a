package shiftlight

import (
	"image/color"
	"math"
)

// Compute maps an RPM value and the current time to the LED frame described
// by thresholds, in configured order (later thresholds overwrite earlier
// ones on overlapping LEDs — cumulative). hasBlinking is true iff any
// threshold matching the current RPM has Blink set, regardless of whether
// that threshold is currently in its on or off blink phase.
func Compute(rpm uint32, thresholds []Threshold, totalLEDs int, nowMS int64) ([]color.RGBA, bool) {
	leds := make([]color.RGBA, totalLEDs)
	hasBlinking := false

	if totalLEDs <= 0 {
		return leds, hasBlinking
	}

	for _, th := range thresholds {
		if rpm < th.RPMLower {
			continue
		}
		if th.Blink {
			hasBlinking = true
		}

		blinkMS := th.BlinkMS
		if blinkMS == 0 {
			blinkMS = DefaultBlinkMS
		}
		if th.Blink && (nowMS/int64(blinkMS))%2 != 0 {
			continue
		}

		start := clampIndex(th.StartLED, totalLEDs)
		end := clampIndex(th.EndLED, totalLEDs)
		rangeLen := abs(end-start) + 1
		dir := 1
		if start > end {
			dir = -1
		}

		colors := th.Colors
		if len(colors) == 0 {
			colors = DefaultColors()
		}

		active := activeCount(th, rpm, rangeLen)
		for i := 0; i < active; i++ {
			ledIndex := start + i*dir
			leds[ledIndex] = interpolateGradient(colors, i, rangeLen)
		}
	}

	return leds, hasBlinking
}

// RenderInterval derives the tick interval the RPM/LED task should use to
// align render ticks to an absolute wall-clock grid: ok=false if no
// threshold blinks (RPM-driven rendering only), else max(10, gcd of all
// blink_ms).
func RenderInterval(thresholds []Threshold) (uint32, bool) {
	var g uint32
	found := false
	for _, th := range thresholds {
		if !th.Blink {
			continue
		}
		ms := th.BlinkMS
		if ms == 0 {
			ms = DefaultBlinkMS
		}
		if !found {
			g = ms
			found = true
			continue
		}
		g = gcd(g, ms)
	}
	if !found {
		return 0, false
	}
	if g < 10 {
		g = 10
	}
	return g, true
}

func activeCount(th Threshold, rpm uint32, rangeLen int) int {
	if th.RPMUpper == 0 || th.RPMUpper <= th.RPMLower {
		return rangeLen
	}
	effective := rpm
	if effective > th.RPMUpper {
		effective = th.RPMUpper
	}
	span := effective - th.RPMLower
	active := 1 + int(float64(span)*float64(rangeLen)/float64(th.RPMUpper-th.RPMLower))
	if active > rangeLen {
		active = rangeLen
	}
	if active < 0 {
		active = 0
	}
	return active
}

// interpolateGradient is piecewise-linear across colors: position
// p = i/(rangeLen-1) in [0,1]; segment = floor(p*(len(colors)-1)); local t is
// the remainder; each channel is round(a + (b-a)*t). A single-color list
// produces a solid color regardless of position.
func interpolateGradient(colors []color.RGBA, i, rangeLen int) color.RGBA {
	if len(colors) == 1 {
		return colors[0]
	}

	var p float64
	if rangeLen > 1 {
		p = float64(i) / float64(rangeLen-1)
	}

	scaled := p * float64(len(colors)-1)
	segment := int(math.Floor(scaled))
	t := scaled - float64(segment)
	if segment >= len(colors)-1 {
		segment = len(colors) - 2
		t = 1.0
	}
	if segment < 0 {
		segment = 0
	}

	a, b := colors[segment], colors[segment+1]
	return color.RGBA{
		R: lerpChannel(a.R, b.R, t),
		G: lerpChannel(a.G, b.G, t),
		B: lerpChannel(a.B, b.B, t),
		A: lerpChannel(a.A, b.A, t),
	}
}

func lerpChannel(a, b uint8, t float64) uint8 {
	v := float64(a) + (float64(b)-float64(a))*t
	return uint8(math.Round(v))
}

func clampIndex(idx, totalLEDs int) int {
	if idx < 0 {
		return 0
	}
	if idx > totalLEDs-1 {
		return totalLEDs - 1
	}
	return idx
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
