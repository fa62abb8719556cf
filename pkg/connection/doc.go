// Package connection keeps a client connection to a devmon server usable
// across server restarts.
//
// A Connector dials lazily and re-dials after a failed request. Dial
// attempts are spaced by exponential backoff with jitter:
//
//  1. Initial delay: 200 milliseconds
//  2. Exponential increase: 400ms, 800ms, 1.6s, 3.2s
//  3. Maximum delay: 5 seconds
//  4. Reset on a successful dial
//
// Jitter keeps clients started together from redialing in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
