package shiftlight

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func red() color.RGBA    { return color.RGBA{R: 255, A: 255} }
func green() color.RGBA  { return color.RGBA{G: 255, A: 255} }
func yellow() color.RGBA { return color.RGBA{R: 255, G: 255, A: 255} }
func off() color.RGBA    { return color.RGBA{} }

func s1Thresholds() []Threshold {
	return []Threshold{
		{Name: "green", RPMLower: 3000, StartLED: 0, EndLED: 2, Colors: []color.RGBA{green()}},
		{Name: "yellow", RPMLower: 5000, StartLED: 0, EndLED: 4, Colors: []color.RGBA{yellow()}},
		{Name: "red", RPMLower: 6500, StartLED: 0, EndLED: 7, Colors: []color.RGBA{red()}},
		{Name: "red-blink", RPMLower: 7000, StartLED: 0, EndLED: 7, Colors: []color.RGBA{red()}, Blink: true, BlinkMS: 100},
	}
}

func TestScenarioS1RPMVary(t *testing.T) {
	th := s1Thresholds()

	leds, blinking := Compute(2000, th, 8, 0)
	for _, l := range leds {
		assert.Equal(t, off(), l)
	}
	assert.False(t, blinking)

	leds, _ = Compute(3500, th, 8, 0)
	for i := 0; i <= 2; i++ {
		assert.Equal(t, green(), leds[i])
	}
	for i := 3; i <= 7; i++ {
		assert.Equal(t, off(), leds[i])
	}

	leds, _ = Compute(5500, th, 8, 0)
	for i := 0; i <= 4; i++ {
		assert.Equal(t, yellow(), leds[i])
	}

	leds, blinking = Compute(7500, th, 8, 0)
	for i := 0; i <= 7; i++ {
		assert.Equal(t, red(), leds[i])
	}
	assert.True(t, blinking)

	// at t=100ms, (100/100)%2 == 1, so red-blink is off, but red@6500
	// (non-blinking) remains underneath, still showing solid red.
	leds, blinking = Compute(7500, th, 8, 100)
	for i := 0; i <= 7; i++ {
		assert.Equal(t, red(), leds[i])
	}
	assert.True(t, blinking)
}

func TestScenarioS2Mirror(t *testing.T) {
	th := []Threshold{
		{Name: "mirror", RPMLower: 1000, RPMUpper: 2000, StartLED: 3, EndLED: 0, Colors: []color.RGBA{red()}},
	}

	leds, _ := Compute(1000, th, 4, 0)
	assert.Equal(t, red(), leds[3])
	assert.Equal(t, off(), leds[0])
	assert.Equal(t, off(), leds[1])
	assert.Equal(t, off(), leds[2])

	leds, _ = Compute(1250, th, 4, 0)
	assert.Equal(t, red(), leds[3])
	assert.Equal(t, red(), leds[2])
	assert.Equal(t, off(), leds[1])
	assert.Equal(t, off(), leds[0])

	leds, _ = Compute(2000, th, 4, 0)
	for _, l := range leds {
		assert.Equal(t, red(), l)
	}
}

func TestCumulativeThresholdsOverwrite(t *testing.T) {
	// Property 4: later thresholds overwrite earlier ones on overlap, but
	// LEDs outside the overlap painted by earlier thresholds remain lit.
	th := []Threshold{
		{Name: "a", RPMLower: 0, StartLED: 0, EndLED: 4, Colors: []color.RGBA{green()}},
		{Name: "b", RPMLower: 0, StartLED: 2, EndLED: 4, Colors: []color.RGBA{red()}},
	}
	leds, _ := Compute(100, th, 5, 0)
	assert.Equal(t, green(), leds[0])
	assert.Equal(t, green(), leds[1])
	assert.Equal(t, red(), leds[2])
	assert.Equal(t, red(), leds[3])
	assert.Equal(t, red(), leds[4])
}

func TestStaticGradientIndependentOfLitCount(t *testing.T) {
	// Property 5: the color at LED position i within a proportional range is
	// interpolate(colors, i, range_len) regardless of how many LEDs are
	// currently lit.
	colors := []color.RGBA{{R: 0, A: 255}, {R: 255, A: 255}}
	th := []Threshold{
		{Name: "grad", RPMLower: 1000, RPMUpper: 5000, StartLED: 0, EndLED: 3, Colors: colors},
	}

	// Only LED 0 lit at rpm_lower.
	leds, _ := Compute(1000, th, 4, 0)
	assert.Equal(t, uint8(0), leds[0].R)

	// All 4 lit at rpm_upper; LED 3's color is fixed by its position in the
	// full 4-LED range, independent of the active count at a lower RPM.
	leds, _ = Compute(5000, th, 4, 0)
	assert.Equal(t, uint8(255), leds[3].R)

	// Recompute at a partial RPM (4000 gives 1+3000*4/4000 = 4 active, so
	// LED 3 is lit) — confirm its color never depends on activeCount, only
	// position.
	leds, _ = Compute(4000, th, 4, 0)
	if leds[3] != (color.RGBA{}) {
		assert.Equal(t, uint8(255), leds[3].R)
	}
}

func TestBlinkIndependence(t *testing.T) {
	// Property 6: two thresholds with different blink_ms never co-influence
	// each other's on/off phase.
	th := []Threshold{
		{Name: "fast", RPMLower: 0, StartLED: 0, EndLED: 0, Colors: []color.RGBA{red()}, Blink: true, BlinkMS: 100},
		{Name: "slow", RPMLower: 0, StartLED: 1, EndLED: 1, Colors: []color.RGBA{green()}, Blink: true, BlinkMS: 200},
	}

	for _, now := range []int64{0, 100, 200, 300, 400} {
		leds, _ := Compute(0, th, 2, now)
		wantFast := (now/100)%2 == 0
		wantSlow := (now/200)%2 == 0

		if wantFast {
			assert.Equal(t, red(), leds[0], "t=%d", now)
		} else {
			assert.Equal(t, off(), leds[0], "t=%d", now)
		}
		if wantSlow {
			assert.Equal(t, green(), leds[1], "t=%d", now)
		} else {
			assert.Equal(t, off(), leds[1], "t=%d", now)
		}
	}
}

func TestRenderIntervalNoBlinking(t *testing.T) {
	th := []Threshold{{Name: "solid", RPMLower: 0, StartLED: 0, EndLED: 0, Colors: []color.RGBA{red()}}}
	_, ok := RenderInterval(th)
	assert.False(t, ok)
}

func TestRenderIntervalGCD(t *testing.T) {
	th := []Threshold{
		{Name: "a", Blink: true, BlinkMS: 300},
		{Name: "b", Blink: true, BlinkMS: 450},
	}
	ms, ok := RenderInterval(th)
	assert.True(t, ok)
	assert.EqualValues(t, 150, ms)
}

func TestRenderIntervalFloor(t *testing.T) {
	th := []Threshold{{Name: "a", Blink: true, BlinkMS: 5}}
	ms, ok := RenderInterval(th)
	assert.True(t, ok)
	assert.EqualValues(t, 10, ms)
}

func TestGradientMultiColorSegments(t *testing.T) {
	colors := []color.RGBA{
		{R: 0, A: 255},
		{R: 100, A: 255},
		{R: 255, A: 255},
	}
	th := []Threshold{{Name: "grad3", RPMLower: 0, StartLED: 0, EndLED: 4, Colors: colors}}
	leds, _ := Compute(100, th, 5, 0)
	assert.Equal(t, uint8(0), leds[0].R)
	assert.Equal(t, uint8(255), leds[4].R)
}

func TestApplyGammaScalesByBrightness(t *testing.T) {
	leds := []color.RGBA{{R: 255, G: 128, B: 0, A: 255}}
	out := ApplyGamma(leds, 0)
	assert.Equal(t, uint8(0), out[0].R)

	full := ApplyGamma(leds, 255)
	assert.Equal(t, uint8(255), full[0].R)
}
