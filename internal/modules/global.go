package modules

import (
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

var (
	current atomic.Pointer[Index]

	// buildGroup collapses concurrent first-use builds and refreshes into
	// one scan of the process.
	buildGroup singleflight.Group
)

// Active returns the current index, building one if none exists yet.
// Concurrent callers share a single build. Not safe for signal handlers;
// those use Loaded after arranging for a build up front.
func Active() (*Index, error) {
	if ix := current.Load(); ix != nil {
		return ix, nil
	}
	v, err, _ := buildGroup.Do("build", func() (interface{}, error) {
		if ix := current.Load(); ix != nil {
			return ix, nil
		}
		ix, err := buildIndex()
		if err != nil {
			return nil, err
		}
		current.Store(ix)
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Loaded returns the current index without triggering a build, or nil if
// none has been built. Safe to call from a signal handler.
func Loaded() *Index {
	return current.Load()
}

// Refresh scans the process again and atomically replaces the current
// index. Walks already holding the old snapshot keep using it unaffected.
func Refresh() (*Index, error) {
	v, err, _ := buildGroup.Do("refresh", func() (interface{}, error) {
		ix, err := buildIndex()
		if err != nil {
			return nil, err
		}
		current.Store(ix)
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}
