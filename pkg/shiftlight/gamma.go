package shiftlight

import (
	"image/color"
	"math"
)

// gammaValue is the standard LED perceptual-correction exponent.
const gammaValue = 2.2

// gammaLUT is a fixed [0,255] -> [0,255] lookup table applying output =
// round(255 * (input/255)^gamma), computed once at init rather than per-pixel
// as a per-use ramp (google-periph's apa102 lut recomputes its ramp on every
// intensity/temperature change since it also corrects for LED color
// temperature; the shift-light has no such variable, so one fixed table
// suffices).
var gammaLUT [256]byte

func init() {
	for i := 0; i < 256; i++ {
		v := math.Pow(float64(i)/255.0, gammaValue) * 255.0
		gammaLUT[i] = uint8(math.Round(v))
	}
}

// ApplyGamma gamma-corrects and scales a frame by a brightness byte
// (0 = off, 255 = full), returning a new slice; the input is left unmodified.
func ApplyGamma(leds []color.RGBA, brightness uint8) []color.RGBA {
	out := make([]color.RGBA, len(leds))
	for i, c := range leds {
		out[i] = color.RGBA{
			R: scaleChannel(c.R, brightness),
			G: scaleChannel(c.G, brightness),
			B: scaleChannel(c.B, brightness),
			A: c.A,
		}
	}
	return out
}

func scaleChannel(v, brightness uint8) byte {
	gammaed := gammaLUT[v]
	return byte((uint32(gammaed) * uint32(brightness)) / 255)
}

// LedSink is the narrow capability the RPM/LED task writes rendered frames
// to: an addressable LED strip, a simulator, or a test double.
type LedSink interface {
	Write(leds []color.RGBA, brightness byte) error
}
