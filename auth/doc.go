// Package auth implements the pre-encryption mutual authentication handshake.
//
// Both sides of a freshly opened TCP connection prove that they know the
// Channel Secret by exchanging a keyed digest over the Identity Tag and an
// endpoint. Each side sends the digest of its own local endpoint and checks
// the digest it receives against the endpoint it observes for the other side.
// A relayed connection therefore fails: the relay's observed endpoint differs
// from the one the honest peer folded into its digest.
//
// # Digest
//
//	digest = KeyedHash(secret, tag ‖ ip-bytes ‖ port-big-endian-u16)
//
// ip-bytes are 4 bytes for IPv4 (IPv4-mapped IPv6 addresses are unmapped
// first) and 16 bytes for IPv6. The keyed hash is HMAC-SHA256 by default;
// keyed BLAKE2b-256 is available as an alternative. Both peers must agree.
//
// # Roles
//
//	res, err := authenticator.Server(conn) // accepted connection
//	res, err := authenticator.Client(conn) // outbound connection
//
// On any failure the connection is closed before the error is returned, and
// the error wraps ErrDigestMismatch when the proof itself was wrong.
package auth
