// Package plate turns raw OCR text into the identity key used for every
// session lookup.
package plate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MinLength is the shortest plate the recogniser is allowed to report.
const MinLength = 5

// ErrInvalidPlate is returned when raw text cannot be turned into a Key.
var ErrInvalidPlate = errors.New("invalid plate format")

// Key is a normalized plate: uppercase A-Z and 0-9 only, at least MinLength long.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

// Normalize strips all whitespace and uppercases raw. The OCR layer already
// whitelists characters, but the result is validated again here.
func Normalize(raw string) (Key, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}

	normalized := b.String()
	if len(normalized) < MinLength {
		return "", fmt.Errorf("%w: %q is shorter than %d characters", ErrInvalidPlate, raw, MinLength)
	}

	for _, r := range normalized {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidPlate, raw, r)
		}
	}

	return Key(normalized), nil
}

// MustNormalize is like Normalize but panics on error. Intended for tests and
// constants.
func MustNormalize(raw string) Key {
	k, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return k
}
