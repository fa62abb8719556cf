package device

import "fmt"

// SetResult is the outcome of a temperature update, carried as the single
// byte of a SET_RESPONSE.
type SetResult uint8

// Set results. Values outside this set may arrive from a peer and are
// reported as unknown errors, not protocol violations.
const (
	SetOK         SetResult = 0
	SetNotFound   SetResult = 1
	SetBadRequest SetResult = 2
)

// Known reports whether r is a defined result code.
func (r SetResult) Known() bool {
	return r <= SetBadRequest
}

// String returns the result name.
func (r SetResult) String() string {
	switch r {
	case SetOK:
		return "OK"
	case SetNotFound:
		return "NOT_FOUND"
	case SetBadRequest:
		return "BAD_REQUEST"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR(%d)", uint8(r))
	}
}
