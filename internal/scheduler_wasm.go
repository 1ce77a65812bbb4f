//go:build wasm

package internal

import "sync"

// Wasm runs everything on one thread, so a single shared engine stands in
// for the per-goroutine map.

var engineOnce sync.Once
var globalEngine *Engine

func GetEngine() *Engine {
	engineOnce.Do(func() {
		globalEngine = NewEngine()
	})

	return globalEngine
}

func SetEngine(e *Engine) {
	engineOnce.Do(func() {})
	globalEngine = e
}
