// Package framed carries envelopes between hub and panes over TCP.
//
// Sessions open with a JSON hello/welcome line exchange that assigns the
// pane its address; after that the stream is binary frames in both
// directions. One goroutine reads each connection so frame boundaries
// stay intact; writes from concurrent senders serialize on a
// per-connection mutex.
//
// Ownership boundary:
//   - framed owns connection lifecycle, admission, and pane bookkeeping
//     (window membership and ordering).
//   - framed never inspects payloads and never correlates replies; it
//     hands every inbound envelope to the attached receiver in arrival
//     order.
//   - rate limiting applies to inbound requests only; responses settle
//     transactions the hub itself opened.
package framed
