//go:build linux && amd64

package registers

const osArchSupported = true
