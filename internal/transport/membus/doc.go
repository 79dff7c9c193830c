// Package membus is the in-process transport: one hub and many panes
// exchanging envelopes through per-recipient ordered queues.
//
// Ownership boundary:
// - pane membership, addressing, and window bookkeeping
// - ordered fire-and-forget delivery into attached receivers
// - the not-ready window between a pane joining and attaching its receiver
//
// A joined pane is addressable and enumerable before it can receive;
// SenderFor reports false until Attach, which is exactly the condition the
// bridge resolver polls through.
package membus
