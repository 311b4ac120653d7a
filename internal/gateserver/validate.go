package gateserver

import (
	"regexp"

	"github.com/ppn-systems/orion/internal/protocol"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)

// validUsername checks the account naming rule: 3-20 chars of
// [A-Za-z0-9_-].
func validUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// strongPassword requires 8-128 bytes with at least one upper, one lower,
// and one digit.
func strongPassword(pw string) bool {
	if len(pw) < 8 || len(pw) > protocol.MaxPasswordLen {
		return false
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return upper && lower && digit
}
