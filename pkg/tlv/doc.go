// Package tlv implements the devmon Type-Length-Value frame codec.
//
// Every message on the wire, TCP stream or UDP datagram, is a single frame:
//
//	┌──────────────┬──────────────┬─────────────────────┐
//	│ type (u16 BE)│length (u16 BE)│ value (length bytes)│
//	└──────────────┴──────────────┴─────────────────────┘
//
// The header is always 4 bytes with no padding. A frame with length 0 carries
// no value bytes.
//
// # Stream and Datagram Decoding
//
// FrameReader decodes frames from a byte stream (TCP) and distinguishes a
// clean end of session (ErrConnectionClosed) from a frame cut short by the
// peer (ErrTruncatedFrame). Frames larger than the reader's maximum are
// rejected with ErrFrameTooLarge; the stream cannot be resynchronized after
// that and the caller must drop the connection.
//
// Decode applies the same rules to an in-memory buffer (UDP) and reports any
// short buffer as ErrMalformed.
package tlv
