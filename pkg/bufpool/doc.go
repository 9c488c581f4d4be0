// Package bufpool provides a fixed-size buffer pool shared between message
// producers and the transport.
//
// A pool is configured once with a table of bins (slot size, slot count) and
// never grows. Buffers are value handles carrying the pool identity, the bin
// and slot they were drawn from and a generation tag. Handing a Buffer to a
// Sink moves ownership; the previous owner must not touch it afterwards.
// Releasing a handle twice, or releasing it to the wrong pool, is detected
// through the generation tag and treated as a fatal fault.
package bufpool
