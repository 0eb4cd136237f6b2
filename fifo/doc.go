// Package fifo implements the bidirectional, buffered (DefaultDepth per
// direction by default; a send blocks while its direction is full),
// single-producer/single-consumer message channel that binds two adjacent fabric actors
// for one traffic class. It generalizes the teacher's named-pipe FIFO
// HAL (github.com/ardnew/softusb/device/hal/fifo) from an OS-pipe
// transport to an in-process Go-channel transport, since the CORE
// fabric composes actors in a single process; closing a Pair's queues
// is the shutdown signal, standing in for the teacher's null-message
// sentinel.
package fifo
