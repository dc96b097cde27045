// Package dedupe drops inbound activities the messaging service redelivers.
// Keys are accepted once per TTL window; the cache is bounded and evicts the
// oldest key first.
package dedupe
