// Package invoker schedules work onto a single-goroutine loop.
//
// A Loop plays the role of a platform thread: the runtime loop owns the
// script engine, the main loop owns the live view hierarchy, and the native
// loop runs module method bodies. Code on any goroutine hands work to a loop
// through the CallInvoker interface; the loop runs it in order.
//
// Ordering: work in the same priority lane runs in enqueue order. Higher
// lanes drain first. Nothing is ever run concurrently on one loop.
//
// Thread-safety model:
//   - InvokeAsync / InvokeSync: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - InvokeSync from the loop's own goroutine returns ErrReentrantSync
package invoker
