//go:build !linux

package modules

import "errors"

var errNoModuleScanner = errors.New("module scanning not supported on this OS")

func buildIndex() (*Index, error) {
	return nil, errNoModuleScanner
}
