// Package fetch owns the cached network-fetch handler and the cache
// administration handler.
//
// Ownership boundary:
// - fetch request/response contracts and their validation
// - cache consultation and store policy (status 200, non-empty body,
//   caching requested)
// - the net/http realization of the fetch primitive
//
// The handler keeps three response fields: status, body text, final URL.
// Everything else a response carries is dropped before it crosses back to
// the pane.
package fetch
