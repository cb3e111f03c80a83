// Package bridge dispatches serialized script calls to native modules.
//
// A call arrives as (moduleID, methodID, args, callID). The Dispatcher
// decodes the arguments, resolves the method through the module registry,
// checks the argument count and runs the method according to its calling
// convention:
//
//   - Normal: scheduled on the native invoker, fire-and-forget. Failures go
//     to the ExceptionsManager.
//   - Promise: scheduled on the native invoker with a resolve/reject pair.
//     Settlement is delivered once through the Responder.
//   - Sync: run on the calling goroutine; the result is returned directly.
//
// Responses are always handed to the Responder on the runtime invoker, so
// the script side observes them on its own loop.
//
// Per-call state: Received -> Resolved -> Invoking -> Completed | Failed.
package bridge
