// Package position reconciles the position reported by a blinds device with
// the position requested by the user.
//
// Positions are percentages: 100 is fully open, 0 is fully closed.
package position

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	Closed   = 0
	HalfOpen = 50
	Open     = 100
)

const unknownLabel = "unknown"

var (
	ErrTransport = errors.New("device request failed")
	ErrParse     = errors.New("device response is not an integer")
	ErrInvalid   = errors.New("position out of range")
)

// Label returns a human readable description of a position.
func Label(p int) string {
	switch p {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case HalfOpen:
		return "half open"
	}

	return fmt.Sprintf("%d%%", p)
}

// LabelOf is Label for a value that may be unknown.
func LabelOf(p int, known bool) string {
	if !known {
		return unknownLabel
	}
	return Label(p)
}

func Valid(p int) bool {
	return p >= Closed && p <= Open
}

func validate(p int) error {
	if !Valid(p) {
		return errors.Wrapf(ErrInvalid, "%d", p)
	}
	return nil
}

// ParseBody reads an integer from a plain text device response.
func ParseBody(body string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		return 0, errors.Wrapf(ErrParse, "%q", StripNewlines(body))
	}
	return value, nil
}

// StripNewlines removes line breaks so a response body fits on one log line.
func StripNewlines(s string) string {
	return strings.NewReplacer("\r\n", "", "\r", "", "\n", "").Replace(s)
}

// FormatURL substitutes the %position% placeholder of a set position url.
func FormatURL(template string, p int) string {
	return strings.ReplaceAll(template, Placeholder, strconv.Itoa(p))
}

const Placeholder = "%position%"
