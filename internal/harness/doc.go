// Package harness runs scripted editing sessions against an in-process
// server and checks that every replica converges.
//
// # Scenario Format
//
// Scenarios are YAML files validated against the CUE schema in schema.cue:
//
//	name: coffee
//	description: "Three concurrent edits against the same word"
//	initial: core
//	clients: [a, b, c]
//	steps:
//	  - edit: {client: a, op: {type: insert, pos: 3, text: f}}
//	  - edit: {client: b, op: {type: delete, pos: 2, len: 1}}
//	  - send: a
//	  - deliver: b
//	  - flush: true
//	expect:
//	  text: coffe
//
// # Network Model
//
// Each client has an uplink (requests it generated, not yet seen by the
// server) and a downlink (the server's outgoing queue for its proxy). Both
// are FIFO. Steps move one message at a time; flush moves messages until
// both directions of every link are empty. A reset leaves the uplink as it
// is: the server drops what arrives from the replaced pairing.
//
// # Deterministic Testing
//
// Run flushes in a fixed order, so its trace is stable and can be compared
// against golden files. RunRandomized and Explore shuffle which link moves
// next with a seeded PRNG, exploring other interleavings reproducibly.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/coffee.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
