package api

import (
	"fmt"
	"strings"

	"github.com/linklocal/pairgate/internal/pairing"
)

const (
	minTargetDigits = 7
	maxTargetDigits = 15
)

// NormalizeTarget converts a phone-number-like identifier to its digits-only
// form. Separators commonly pasted from address books are stripped; anything
// else is rejected before a session is created.
func NormalizeTarget(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: number is required", pairing.ErrInvalidTarget)
	}

	var b strings.Builder
	for _, c := range trimmed {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '+' || c == '-' || c == ' ' || c == '(' || c == ')' || c == '.':
			// Separator; dropped.
		default:
			return "", fmt.Errorf("%w: unexpected character %q", pairing.ErrInvalidTarget, c)
		}
	}

	digits := b.String()
	if len(digits) < minTargetDigits || len(digits) > maxTargetDigits {
		return "", fmt.Errorf("%w: expected %d-%d digits, got %d", pairing.ErrInvalidTarget, minTargetDigits, maxTargetDigits, len(digits))
	}
	return digits, nil
}
