// Package cache owns the bounded weighted response cache.
//
// Ownership boundary:
// - entry bookkeeping (value, insertion time, hit count)
// - hits-per-age eviction ranking
// - capacity enforcement after every insert
//
// Eviction weighs entries by hits per second of age, so an entry survives
// pruning by being looked up often relative to how long it has existed.
package cache
