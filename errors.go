package authscheme

import (
	"errors"
	"fmt"
)

// ErrWatchUnsupported is returned by Registry.WatchSource when the underlying
// configuration source does not implement confsource.Watcher.
var ErrWatchUnsupported = errors.New("configuration source does not support change notification")

// FieldError reports a scheme configuration value that is present but fails
// type parsing. It is fatal: the scheme cannot be activated until the value is
// corrected.
type FieldError struct {
	Scheme string
	Key    string
	Raw    string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("scheme %q: field %s: cannot parse %q: %v", e.Scheme, e.Key, e.Raw, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// KeyDecodeError reports a signing key value that is present but not valid
// base64. Absent key values are skipped silently; present-but-corrupt values
// are fatal.
type KeyDecodeError struct {
	Issuer string
	Err    error
}

func (e *KeyDecodeError) Error() string {
	return fmt.Sprintf("signing key for issuer %q: invalid base64: %v", e.Issuer, e.Err)
}

func (e *KeyDecodeError) Unwrap() error { return e.Err }
