// Package identity manages secp256k1 keypairs: the author's local signing
// key and the ephemeral keys used for handshakes and upload authorization.
package identity
