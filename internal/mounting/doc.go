// Package mounting applies shadow tree transactions to the live view
// hierarchy.
//
// The live hierarchy belongs to the main loop. Mount may be called from
// any goroutine; it marshals the whole batch, including the delegate's
// WillMount and DidMount hooks, onto the main loop and returns once the
// batch was applied or failed.
//
// A failing mutation aborts the rest of its transaction. Mutations already
// applied are not rolled back; the failure is reported as fatal.
package mounting
