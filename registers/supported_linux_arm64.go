//go:build linux && arm64

package registers

const osArchSupported = true
