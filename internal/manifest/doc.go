// Package manifest compiles CUE module manifests into native modules.
//
// A manifest declares modules under the top-level `module` field:
//
//	module: Counter: {
//		constants: initial: 0
//		methods: {
//			increment: {convention: "promise", behavior: "increment", limit: 10}
//			current:   {convention: "sync", behavior: "read", key: "increment"}
//		}
//	}
//
// Methods keep their declaration order in the stub table. Each method
// runs one built-in behavior:
//
//   - return: returns `value` (Null when unset)
//   - echo: returns the first argument
//   - increment: adds the first Int argument (or 1) to a module-local
//     counter named by `key` and returns the new count; exceeding
//     `limit` rejects with E_LIMIT
//   - read: returns the counter named by `key`
//   - reject: fails with `code` and `message`
//   - settle_twice: resolves `value` twice (Promise methods only)
//   - panic: panics with `message`
//
// Promise methods with a `delay` settle from a timer goroutine.
package manifest
