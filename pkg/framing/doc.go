// Package framing turns a raw byte stream into a structured, checksummed
// message channel.
//
// A frame on the wire is:
//
//	sync (N bytes) | length (1, 2 or 4 bytes) | payload | checksum
//
// The length field counts payload bytes only. The checksum covers the length
// field and the payload. Byte order and checksum algorithm are fixed per
// deployment by a Protocol value; nothing is negotiated at runtime.
//
// The Deframer recovers from noise purely by searching for the sync pattern:
// it has no byte timeout. When a candidate frame is rejected (bad length, bad
// checksum, no buffer) every byte after the rejected sync start is scanned
// again, so a good frame that began inside a bad one is not lost.
package framing
