// Package transport declares the ports the bridge core consumes.
//
// Ownership boundary:
// - pane addressing and peer records
// - sender acquisition and delivery contracts
// - window/pane enumeration and pane-opening host contracts
//
// Implementations live in subpackages (membus, framed); the core never
// depends on a concrete transport.
package transport
