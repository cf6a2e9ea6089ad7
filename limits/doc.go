// Package limits provides centralized size constants and validation functions
// for the dchat wire protocol. Every component that reads from the network or
// from disk checks its input against one of these limits before allocating.
//
// # Size Hierarchy
//
//   - MaxDigestRead (400 bytes): the most the Handshake Authenticator will read
//     for a peer's digest. The digest itself is much shorter.
//
//   - MaxRecordPayload (65519 bytes): the largest plaintext carried by one
//     encrypted record. A text line must fit in a single record because the
//     record boundary is the only thing delimiting it.
//
//   - MaxFileName (255 bytes): matches common filesystem limits.
//
//   - DefaultMaxFileSize (100 MiB): the default ceiling for a declared file
//     frame length. Configurable per node.
//
// # Validation Functions
//
//	if err := limits.ValidateTextLine(line); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
//	if err := limits.ValidateFileSize(size, max); err != nil {
//	    // ErrMessageTooLarge
//	}
package limits
