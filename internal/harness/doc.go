// Package harness runs YAML scenarios against a fully wired bridge.
//
// A scenario loads CUE module manifests, starts a host.Host with an
// in-memory diagnostics store, executes its steps one at a time and waits
// for the bridge to go quiet after each one. The resulting trace is
// compared against golden files and checked with assertions.
//
// # Scenario Format
//
//	name: counter_increment
//	description: "Promise increment resolves once"
//	manifests: modules          # CUE directory, relative to the scenario file
//	config: |                   # optional TOML, same keys as tether.toml
//	  [bridge]
//	  double_settle = "report"
//	manual_beat: false          # deliver events only on flush steps
//	steps:
//	  - call: Counter.increment
//	    args: [1]
//	    expect:
//	      result: 1
//	  - mount:
//	      surface: 1
//	      root:
//	        tag: 1
//	        component: View
//	        children:
//	          - {tag: 2, component: Button, props: {title: "Tap"}}
//	  - event: {surface: 1, tag: 2, type: press, payload: {x: 1}}
//	  - script: "globalThis.ready = true"
//	  - flush: true
//	  - stop_surface: 1
//	assertions:
//	  - type: path
//	    path: trace.0.result
//	    equals: 1
//	  - type: call_count
//	    method: Counter.increment
//	    count: 1
//
// # Assertion Types
//
//   - path: evaluates a gjson path over the JSON result (equals or exists)
//   - global: reads a script global, optionally narrowed by a gjson path
//   - call_count: verifies a method finished exactly N times
//   - call_order: verifies methods finished in the given order
//   - exceptions: verifies the number of reported native exceptions
//
// # Golden Files
//
// AssertGolden stores the canonical JSON of a result under
// testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
