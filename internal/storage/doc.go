// Package storage persists the hub's key-value namespace.
//
// Ownership boundary:
//   - storage owns the persisted snapshot format and its optional sealing.
//   - storage does not know about message types or panes; the handler
//     layer maps storage operations onto these stores.
//   - stores are safe for concurrent use by multiple handler goroutines.
package storage
