// Package nostr implements the protocol primitives the migration pipeline
// publishes with: the event model and its canonical NIP-01 serialization,
// BIP-340 schnorr signing and verification, and NIP-04 payload encryption
// for the remote-signer channel.
package nostr
