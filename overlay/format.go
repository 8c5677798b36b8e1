package overlay

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatTemp renders a temperature in its shortest decimal form.
func FormatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatTarget renders the target suffix shown next to an actual temperature,
// or "" when no target is set.
func FormatTarget(target float64) string {
	if target == 0 {
		return ""
	}
	return fmt.Sprintf(" / %s °C", FormatTemp(target))
}

// FormatRemaining renders remaining minutes as a countdown.
func FormatRemaining(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	if minutes > 59 {
		return fmt.Sprintf("-%dh%dm", minutes/60, minutes%60)
	}
	return fmt.Sprintf("-%dm", minutes)
}

// FanScaler converts a device-native fan speed into a 0-100 percentage.
type FanScaler func(raw string) int

// ScaleFan returns a FanScaler for devices reporting speed as an integer in
// 0..full. The result is rounded to the nearest integer and clamped.
func ScaleFan(full int) FanScaler {
	if full <= 0 {
		full = 15
	}
	return func(raw string) int {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n <= 0 {
			return 0
		}
		pct := int(math.Round(float64(n) / float64(full) * 100))
		if pct > 100 {
			pct = 100
		}
		return pct
	}
}

// DefaultFanPercent uses the 0-15 scale reported by the printer.
var DefaultFanPercent = ScaleFan(15)

// FormatFan renders a labelled fan speed.
func FormatFan(label string, pct int) string {
	return fmt.Sprintf("%s: %d%%", label, pct)
}

// FanOff reports whether a raw fan speed means the fan is stopped.
func FanOff(raw string) bool {
	return raw == "0"
}

// FormatWeight renders a job weight in grams.
func FormatWeight(grams float64) string {
	rounded := math.Round(grams*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64) + "g"
}

// ParseColor reads the RGB part of an RRGGBB or RRGGBBAA hex string.
func ParseColor(hex string) (r, g, b uint8, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex[:6], 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}

// Foreground picks black or white text for a background colour using HSL
// lightness with a 0.4 threshold.
func Foreground(r, g, b uint8) string {
	hi := math.Max(float64(r), math.Max(float64(g), float64(b)))
	lo := math.Min(float64(r), math.Min(float64(g), float64(b)))
	if (hi+lo)/2/255 > 0.4 {
		return "000000"
	}
	return "FFFFFF"
}

// ABGR converts RRGGBB hex into the packed colour integer used by OBS sources.
func ABGR(hex string) (uint32, bool) {
	r, g, b, ok := ParseColor(hex)
	if !ok {
		return 0, false
	}
	return 0xFF<<24 | uint32(b)<<16 | uint32(g)<<8 | uint32(r), true
}
