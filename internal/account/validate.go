package account

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// reservedUsernames cannot be registered; "deleted_" is the tombstone
// prefix used by Anonymize.
var reservedUsernames = map[string]bool{
	"admin": true, "me": true, "moderator": true, "support": true, "vibespace": true,
}

// NormalizeUsername lower-cases and trims a username and strips a
// leading "@".
func NormalizeUsername(username string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(username)), "@")
}

// ValidateUsername checks a normalized username.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-30 characters of a-z, 0-9 or _", ErrInvalid)
	}
	if reservedUsernames[username] || strings.HasPrefix(username, "deleted_") {
		return fmt.Errorf("%w: username %q is reserved", ErrInvalid, username)
	}
	return nil
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || len(email) > 255 {
		return fmt.Errorf("%w: invalid email address", ErrInvalid)
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalid)
	}
	if len(password) > 72 {
		// bcrypt ignores everything past 72 bytes.
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalid)
	}
	return nil
}
