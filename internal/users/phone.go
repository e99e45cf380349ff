package users

import (
	"fmt"
	"strings"

	"github.com/solven/escrow/internal/apperr"
)

// NormalizePhone turns a Nigerian mobile number into +234XXXXXXXXXX.
// Accepted forms: +2348012345678, 2348012345678, 08012345678.
func NormalizePhone(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(s, "+234"):
		s = s[4:]
	case strings.HasPrefix(s, "234") && len(s) == 13:
		s = s[3:]
	case strings.HasPrefix(s, "0") && len(s) == 11:
		s = s[1:]
	}
	if len(s) != 10 || s[0] == '0' {
		return "", fmt.Errorf("phone number %q: %w", raw, apperr.ErrInvalidInput)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("phone number %q: %w", raw, apperr.ErrInvalidInput)
		}
	}
	return "+234" + s, nil
}
