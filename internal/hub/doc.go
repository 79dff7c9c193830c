// Package hub runs the privileged side of the bridge as one service:
// framed transport listener, rpc engine, application handlers, and the
// admin HTTP surface.
//
// Ownership boundary:
//   - hub owns process lifecycle: bootstrap order, heartbeat, shutdown.
//   - hub wires components together but owns none of their semantics;
//     the engine, cache, stores, and handlers keep their own contracts.
//   - the admin surface is read-mostly; cache clear is its only
//     mutation.
package hub
