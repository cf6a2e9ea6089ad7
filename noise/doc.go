// Package noise provides the Secure Channel Upgrade: it wraps an already
// authenticated TCP connection in an anonymous encrypted tunnel built on the
// Noise Protocol Framework (github.com/flynn/noise).
//
// # Anonymous Key Exchange
//
// The NN pattern is used: both sides contribute only an ephemeral
// Diffie-Hellman key, no static keys and no certificates are ever exchanged.
// Trust comes entirely from the preceding auth handshake, whose two digests
// are mixed into the Noise prologue so the tunnel is bound to that exchange.
//
//	-> e            payload: protocol version
//	<- e, ee        payload: protocol version
//
// # Diffie-Hellman Parameters
//
// The DH function is finite-field Diffie-Hellman over a group loaded once at
// startup from a PEM "DH PARAMETERS" file, the format written by
//
//	openssl dhparam -5 -outform PEM -out dhparam.pem
//
// Both peers must load the same group; with different groups the handshake
// fails. Groups under 2048 bits are refused unless AllowWeakDH is set.
//
//	params, err := noise.LoadParams("dhparam.pem")
//	upgrader, err := noise.NewUpgrader(noise.Policy{Params: params, Cipher: "ChaChaPoly", Hash: "SHA256", MinVersion: 1})
//	secure, err := upgrader.Upgrade(conn, noise.Responder, result.Binding())
//
// # Record Layer
//
// After the handshake every Write is cut into records of at most
// limits.MaxRecordPayload bytes, each sent as a big-endian u16 length followed
// by the AEAD ciphertext. A Read never returns bytes from two different
// records, which keeps the boundary of a single chat line intact.
package noise
