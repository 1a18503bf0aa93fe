// Package protocol owns the remote-API wire contract primitives.
//
// Ownership boundary:
// - scalar codec for QoS enumerations and sample kinds
// - binary payload wrapper (base64 text)
// - externally tagged union helpers shared by wire and message
// - error taxonomy surfaced by every decoder
//
// Sub-packages:
// - keyexpr: validated key-expression value type
// - wire: domain object encoders (samples, queries, replies)
// - message: control/data vocabulary and the outer envelope
// - schema: required-field tables for struct variants
// - frame: text framing over byte streams
// - session: per-entity lifecycle tracking and session runtime helpers
package protocol
