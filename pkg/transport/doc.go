// Package transport serves the devmon TLV protocol over TCP.
//
// A Server accepts connections and runs one handler per connection. Each
// handler reads a request frame, passes it to the configured Handler and
// writes back at most one response frame, then waits for the next request.
//
// # Connection states
//
//	AWAITING_FRAME ──frame──▶ DISPATCHING ──response sent──▶ AWAITING_FRAME
//	AWAITING_FRAME ──clean close──▶ CLOSED_CLEAN
//	AWAITING_FRAME ──read error──▶ CLOSED_ERROR
//	DISPATCHING ──write error──▶ CLOSED_ERROR
//
// A failure on one connection never affects another connection or the
// listener. The socket is closed on every terminal transition.
//
// Client is the matching request/response client used by the interactive
// tool and the tests.
package transport
