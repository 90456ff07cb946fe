// Package transport connects participants to a server over websocket.
//
// The protocol is JSON envelopes, one per websocket message:
//
//	client → server  {"type":"hello","id":"alice"}
//	server → client  {"type":"snapshot","id":"alice","session":"...","text":"core"}
//	client → server  {"type":"request","request":{"op":...,"timestamp":[0,0],"origin":"alice"}}
//	server → client  {"type":"request","request":{...}}
//	server → client  {"type":"resync","text":"coffe","epoch":1}
//	client → server  {"type":"resync","epoch":0}
//
// Requests carry the epoch of the pairing they were generated in once it is
// non-zero. A participant that cannot apply a request of its current epoch
// sends a resync envelope, and the server resets its proxy.
//
// A refused handshake (duplicate id, malformed hello) gets an "error"
// envelope and a close frame. Websocket delivers in order, which is all the
// Jupiter pairing needs; a dropped connection removes the participant.
package transport
