package airports

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedCoordinate = errors.New("malformed coordinate")
	ErrMalformedLine       = errors.New("malformed airport record")
)

// Hemisphere is the N/S/E/W indicator of a sexagesimal coordinate
type Hemisphere byte

const (
	North Hemisphere = 'N'
	South Hemisphere = 'S'
	East  Hemisphere = 'E'
	West  Hemisphere = 'W'
)

func (h Hemisphere) negative() bool {
	return h == South || h == West
}

func (h Hemisphere) latitude() bool {
	return h == North || h == South
}

// ParseDMS converts a degrees-minutes-seconds string such as "353939N" or "1394600E" into
// decimal degrees, negative for the southern and western hemispheres. The hemisphere letter
// may trail or lead the digits and seconds may carry a fractional part ("353939.5N").
func ParseDMS(s string) (float64, error) {
	v, _, err := parseDMS(s)
	return v, err
}

// ParseLatitude is ParseDMS restricted to N/S coordinates within [-90, 90]
func ParseLatitude(s string) (float64, error) {
	v, h, err := parseDMS(s)
	if err != nil {
		return 0, err
	}
	if !h.latitude() {
		return 0, fmt.Errorf("%w: %q: latitude needs an N or S hemisphere", ErrMalformedCoordinate, s)
	}
	if v < -90 || v > 90 {
		return 0, fmt.Errorf("%w: %q: latitude out of range", ErrMalformedCoordinate, s)
	}
	return v, nil
}

// ParseLongitude is ParseDMS restricted to E/W coordinates within [-180, 180]
func ParseLongitude(s string) (float64, error) {
	v, h, err := parseDMS(s)
	if err != nil {
		return 0, err
	}
	if h.latitude() {
		return 0, fmt.Errorf("%w: %q: longitude needs an E or W hemisphere", ErrMalformedCoordinate, s)
	}
	if v < -180 || v > 180 {
		return 0, fmt.Errorf("%w: %q: longitude out of range", ErrMalformedCoordinate, s)
	}
	return v, nil
}

func parseDMS(s string) (float64, Hemisphere, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	if len(str) < 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedCoordinate, s)
	}

	var h Hemisphere
	switch {
	case isHemisphere(str[len(str)-1]):
		h = Hemisphere(str[len(str)-1])
		str = str[:len(str)-1]
	case isHemisphere(str[0]):
		h = Hemisphere(str[0])
		str = str[1:]
	default:
		return 0, 0, fmt.Errorf("%w: %q: missing hemisphere", ErrMalformedCoordinate, s)
	}

	digits, frac, hasFrac := strings.Cut(str, ".")
	// DMMSS through DDDMMSS: the last four digits are always minutes and seconds
	if len(digits) < 5 || len(digits) > 7 || !allDigits(digits) || (hasFrac && (frac == "" || !allDigits(frac))) {
		return 0, 0, fmt.Errorf("%w: %q: expected [D]DDMMSS digits", ErrMalformedCoordinate, s)
	}

	n := len(digits)
	deg, _ := strconv.Atoi(digits[:n-4])
	min, _ := strconv.Atoi(digits[n-4 : n-2])
	secStr := digits[n-2:]
	if hasFrac {
		secStr += "." + frac
	}
	sec, _ := strconv.ParseFloat(secStr, 64)

	if min >= 60 || sec >= 60 {
		return 0, 0, fmt.Errorf("%w: %q: minutes and seconds must be below 60", ErrMalformedCoordinate, s)
	}

	v := float64(deg) + float64(min)/60 + sec/3600
	if h.negative() {
		v = -v
	}
	return v, h, nil
}

func isHemisphere(c byte) bool {
	return c == 'N' || c == 'S' || c == 'E' || c == 'W'
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
