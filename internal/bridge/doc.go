// Package bridge owns the transaction-correlated RPC core.
//
// Ownership boundary:
// - handler registration and lookup
// - transaction allocation and exactly-once settlement
// - envelope dispatch: responses settle pending calls, requests invoke
//   handlers and produce exactly one reply envelope
// - reply-sender acquisition for channels that are not ready yet
//
// The package consumes transport ports and never touches a socket itself.
package bridge
