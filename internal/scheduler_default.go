//go:build !wasm

package internal

import (
	"sync"

	"github.com/petermattis/goid"
)

var engines sync.Map

// GetEngine returns the calling goroutine's engine, creating a default one
// on first use. Engine state is single-threaded; keying engines by goroutine
// keeps independent roots and test harnesses from interfering without any
// locking inside the engine itself.
func GetEngine() *Engine {
	gid := getGID()

	if e, ok := engines.Load(gid); ok {
		return e.(*Engine)
	}

	e := NewEngine()
	engines.Store(gid, e)
	return e
}

// SetEngine replaces the calling goroutine's engine. The public root
// constructor installs one built from its options; roots mounted afterwards
// on the same goroutine share it.
func SetEngine(e *Engine) {
	engines.Store(getGID(), e)
}

func getGID() int64 {
	return goid.Get()
}
