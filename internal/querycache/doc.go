// Package querycache provides a bounded, time-expiring cache for listing and
// aggregate query results.
//
// Entries are keyed by query name plus a JSON encoding of the parameters:
//
//	items:{"folder":"holiday","limit":50}
//
// so a mutation can drop every variant of a query with Invalidate("items").
// Values are stored encoded and decoded on each Get; a caller that modifies
// a result it received never affects what the next caller sees.
package querycache
