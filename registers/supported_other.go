//go:build !linux || (!amd64 && !arm64)

package registers

const osArchSupported = false
