//go:build !amd64 && !arm64

package registers

// CaptureCurrent is a stub on unsupported architectures; Supported() reports
// an error before any walk starts.
func CaptureCurrent(s *Snapshot) {}
