package registers

import "errors"

// ErrUnsupported is returned by Supported on OS/architecture combinations
// the unwinder has no register model or unwind-section access for.
var ErrUnsupported = errors.New("unwinding not supported on this OS/architecture combination")

// Supported reports whether this build can capture register contexts and
// step through call-frame information. It is checked once, before any frame
// is produced.
func Supported() error {
	if !osArchSupported {
		return ErrUnsupported
	}
	return nil
}
