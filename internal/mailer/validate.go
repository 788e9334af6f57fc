package mailer

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidAddress is returned for a recipient that is not an RFC 5322
// address.
var ErrInvalidAddress = errors.New("invalid address")

// NormalizeAddress parses addr and returns the bare address without display
// name or angle brackets.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		// Accept a bare address without angle brackets.
		if _, err2 := mail.ParseAddress("<" + addr + ">"); err2 != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
		return addr, nil
	}
	return parsed.Address, nil
}
