package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrFormat is returned for malformed textual input such as a bad "HH:MM".
var ErrFormat = errors.New("protocol: malformed input")

// SanitizeASCII turns a raw label from the device into a string: everything
// from the first NUL on is discarded, only printable ASCII (32..126) is kept
// and surrounding whitespace is trimmed.
func SanitizeASCII(raw []byte) string {
	if i := bytes.IndexByte(raw, 0x00); i >= 0 {
		raw = raw[:i]
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}

// ParseHHMM parses "HH:MM" into hour and minute. Values are not range
// checked; only the shape is.
func ParseHHMM(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time %q has no ':' separator", ErrFormat, s)
	}
	hour, err = strconv.Atoi(strings.TrimSpace(hh))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: hour in %q: %v", ErrFormat, s, err)
	}
	minute, err = strconv.Atoi(strings.TrimSpace(mm))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: minute in %q: %v", ErrFormat, s, err)
	}
	return hour, minute, nil
}

// FormatHHMM renders a schedule time the way the decoder reports it.
func FormatHHMM(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// OilConsumptionRaw converts a rate in mL/hour to the device's tenths unit.
func OilConsumptionRaw(mlPerHour float64) int {
	return int(math.Round(mlPerHour * 10))
}
