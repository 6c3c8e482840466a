package config

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// parseHexColor parses a "#RRGGBB" string into an opaque color.RGBA. It
// uses go-colorful only for the hex-string parse itself — NOT for any
// gradient math, since the shift-light engine's gradient interpolation is a
// spec-mandated exact linear RGB lerp (testable property 5), and
// go-colorful's blend functions operate in perceptual color spaces that
// would violate that invariant.
func parseHexColor(hex string) (color.RGBA, bool) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, false
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, true
}
