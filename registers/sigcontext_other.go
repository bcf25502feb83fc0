//go:build !linux || (!amd64 && !arm64)

package registers

import "unsafe"

// FromSignalContext reports false on platforms without a ucontext model.
func FromSignalContext(uctx unsafe.Pointer) (Snapshot, bool) {
	return Snapshot{}, false
}
