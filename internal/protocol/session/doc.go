// Package session owns the per-connection side of the remote API protocol.
//
// Ownership boundary:
// - the control protocol state machine (Tracker): session, subscriber,
//   publisher, queryable, get and query lifecycles keyed by identifier
// - identifier-keyed pending tables with deadlines
// - session timeouts, retry backoff and transport security settings
//
// Codec concerns (message shapes, enum codes, payload wrapping) live in the
// protocol packages; this package only reasons about ordering and identity.
package session
