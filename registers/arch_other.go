//go:build !amd64 && !arm64

package registers

// Placeholder layout for unsupported architectures. Supported() reports an
// error before any of these values are used.
const (
	RegRA           = 0
	NumSlots        = 3
	RASignStateSlot = -1

	regPC = 0
	regSP = 1
	regFP = 2
)
