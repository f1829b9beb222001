// Package inproc provides an in-process implementation of the message bus.
//
// All peers of a grid attach to one Hub; a published message is delivered
// to every other attached link through a buffered per-link queue, so
// delivery is asynchronous and may drop under pressure like a real bus.
//
// The hub additionally supports drop rules (see Hub.SetDrop) which makes it
// the transport of choice for multi-peer tests: lossy links, one-way
// partitions and dead peers can all be expressed as a DropFunc.
package inproc
