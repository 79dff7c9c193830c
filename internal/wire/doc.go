// Package wire owns the envelope contract and its encodings.
//
// Ownership boundary:
// - envelope shape and validation
// - binary frame primitives for stream transports
// - hello/welcome session control messages
package wire
