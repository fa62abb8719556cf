// Package discovery lets clients locate a devmon server without a known
// address.
//
// # Multicast discovery
//
// The server runs a Responder bound to a UDP multicast group (default
// 239.0.0.1:5000). A client sends an empty DISCOVER_REQUEST frame to the
// group; the responder answers with a unicast DISCOVER_RESPONSE whose value
// is the TCP service port as a 2-byte big-endian integer. The client takes
// the server address from the response's source IP.
//
// Datagrams carry exactly one TLV frame. Malformed datagrams and frames of
// other types are dropped without a reply.
//
// # DNS-SD
//
// The server may additionally advertise _devmon._tcp over mDNS. Clients use
// the mDNS browser as a fallback when multicast discovery times out.
package discovery
