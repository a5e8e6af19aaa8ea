// Package nip46 establishes and drives remote-signer sessions: the
// connection handshake with its out-of-band descriptor, and the encrypted
// RPC channel used to request signatures from the signer application.
package nip46
