// Package config defines the operator-configurable shift-light and dongle
// settings and a small file-backed store with change notification. JSON via
// encoding/json is used here rather than a third-party config library: none
// of the example repos pull in a structured-config package (viper, koanf,
// etc.), and the schema is a single flat document, not a layered
// env/file/flag merge, so stdlib's encoding/json is the narrowest tool that
// fits — documented per the "justify every stdlib fallback" rule.
package config

import (
	"image/color"

	"github.com/tachtalk/tachtalk/pkg/shiftlight"
)

// MaxOBD2TimeoutMS is the hard ceiling spec §4.4 places on the dongle read
// timeout, regardless of operator configuration.
const MaxOBD2TimeoutMS = 4500

// ThresholdConfig is the JSON-friendly, wire-schema shape of a shift-light
// threshold: colors as hex strings ("#RRGGBB"), matching the config schema
// in spec §6.
type ThresholdConfig struct {
	Name     string   `json:"name"`
	RPMLower uint32   `json:"rpm_lower"`
	RPMUpper uint32   `json:"rpm_upper,omitempty"`
	StartLED int      `json:"start_led"`
	EndLED   int      `json:"end_led"`
	Colors   []string `json:"colors"`
	Blink    bool     `json:"blink"`
	BlinkMS  uint32   `json:"blink_ms,omitempty"`
}

// Obd2Config holds the dongle connection parameters.
type Obd2Config struct {
	DongleAddr string `json:"dongle_addr"`
	TimeoutMS  uint32 `json:"obd2_timeout_ms"`
}

// Config is the full operator-configurable document.
type Config struct {
	Obd2       Obd2Config        `json:"obd2"`
	Thresholds []ThresholdConfig `json:"thresholds"`
	TotalLEDs  int               `json:"total_leds"`
	Brightness uint8             `json:"brightness"`
	ListenAddr string            `json:"listen_addr"`
}

// ToThresholds converts the wire schema into shiftlight.Threshold values,
// parsing each hex color string. A threshold whose Colors is empty or whose
// hex strings fail to parse falls back to shiftlight.DefaultColors() (solid
// red), matching the original's default_colors() fallback.
func (c Config) ToThresholds() []shiftlight.Threshold {
	out := make([]shiftlight.Threshold, 0, len(c.Thresholds))
	for _, tc := range c.Thresholds {
		colors := make([]color.RGBA, 0, len(tc.Colors))
		for _, hex := range tc.Colors {
			if c, ok := parseHexColor(hex); ok {
				colors = append(colors, c)
			}
		}
		if len(colors) == 0 {
			colors = shiftlight.DefaultColors()
		}

		blinkMS := tc.BlinkMS
		if tc.Blink && blinkMS == 0 {
			blinkMS = shiftlight.DefaultBlinkMS
		}

		out = append(out, shiftlight.Threshold{
			Name:     tc.Name,
			RPMLower: tc.RPMLower,
			RPMUpper: tc.RPMUpper,
			StartLED: tc.StartLED,
			EndLED:   tc.EndLED,
			Colors:   colors,
			Blink:    tc.Blink,
			BlinkMS:  blinkMS,
		})
	}
	return out
}

// ClampedTimeout returns the configured OBD2 timeout clamped to
// MaxOBD2TimeoutMS, and whether clamping occurred.
func (c Obd2Config) ClampedTimeout() (ms uint32, clamped bool) {
	if c.TimeoutMS == 0 {
		return MaxOBD2TimeoutMS, false
	}
	if c.TimeoutMS > MaxOBD2TimeoutMS {
		return MaxOBD2TimeoutMS, true
	}
	return c.TimeoutMS, false
}
