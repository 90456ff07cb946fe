// Package server implements the Jupiter document server: the single
// linearization point of a collaborative editing session.
//
// ARCHITECTURE:
//
// The server holds one proxy per participant. A proxy is the server side of
// that participant's pairing (a jupiter.Algorithm) plus an outgoing queue of
// messages awaiting transmission.
//
// Request Flow:
//  1. AddRequest receives a request from participant P
//  2. P's proxy transforms it past the server operations P has not seen
//  3. The result is applied to the server document
//  4. Every other proxy generates it as a server operation and queues it
//  5. Senders drain their participant's queue with NextOutgoing (blocking)
//
// AddRequest runs under the server mutex, so requests from all participants
// are applied in one total order and every participant receives them in that
// order. Run provides the same processing as a single-writer loop over an
// inbound queue for transports with one reader goroutine per participant.
//
// FAILURE ISOLATION:
//
// A request from an unknown participant is dropped with a warning. A causal
// gap (or an operation the server document rejects) resets the origin's
// proxy and sends it a resync message; other participants are unaffected.
//
// Every reset starts a new epoch of the pairing, and the resync message
// carries it. Requests stamped with an older epoch were generated before the
// participant saw the resync; they are dropped without another reset.
//
// OBSERVATION:
//
// Lifecycle and applied operations are published as Events to every
// subscriber queue. Nothing in the request path performs I/O.
package server
