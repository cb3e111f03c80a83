// Package events delivers native-originated view events to the script
// side.
//
// An Emitter is bound to one view through a non-owning Handle: the
// Registry hands out (surface, tag, generation) triples and forgets them
// when the view unmounts, after which the emitter's dispatches are no-ops.
//
// Dispatched events wait in a Queue until the next beat, then are handed to
// the Listener on the runtime loop. Discrete events keep dispatch order.
// A continuous event (one with a coalescing key) replaces any undelivered
// event with the same surface, tag, type and key, and takes the position
// of the latest dispatch.
package events
