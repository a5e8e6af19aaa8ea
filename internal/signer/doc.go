// Package signer provides the signing identities a migration run can use: a
// local in-memory key, or a remote signer behind a gate that serializes
// round-trips and bounds them with timeouts and retries.
package signer
