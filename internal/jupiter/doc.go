// Package jupiter implements the per-connection state of the Jupiter
// concurrency control protocol.
//
// Each pairing of two communicating parties (a client and its proxy on the
// server) holds one Algorithm on either end. An Algorithm counts the
// operations it generated (local generation) and the operations it received
// (remote generation), and keeps every generated operation the peer has not
// yet acknowledged.
//
// Generate stamps a local operation with the current generation pair and
// remembers it. Receive discards the outstanding operations the incoming
// timestamp acknowledges, then transforms the incoming operation past the
// rest. The outstanding operations are transformed in the same step, so they
// stay valid against the document the peer will eventually see.
//
// A pairing restarted with Reset enters a new epoch. Requests carry the
// epoch they were generated in, and Receive rejects any other epoch with a
// StaleEpochError before looking at the timestamp.
//
// Tie-breaking is fixed by Side: the server's operations are privileged on
// both ends, which is what makes the two halves of every transformation
// agree.
//
// An Algorithm is not safe for concurrent use. Client serializes access to
// its own Algorithm; the server does the same for its proxies.
package jupiter
