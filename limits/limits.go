package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDigestRead caps the bytes read as a peer's handshake digest.
	MaxDigestRead = 400

	// MaxRecordPayload is the plaintext capacity of a single encrypted record:
	// the Noise message ceiling (65535) minus the 16 byte AEAD tag.
	MaxRecordPayload = 65535 - RecordOverhead

	// RecordOverhead is the AEAD tag appended to every record.
	RecordOverhead = 16

	// ReadChunk is the read buffer used per peer. It holds a whole record so
	// one read never splits a Text Frame.
	ReadChunk = MaxRecordPayload

	// MaxTextLine is the longest chat line that can be sent as one Text Frame.
	MaxTextLine = MaxRecordPayload

	// MaxFileName is the maximum file name length carried in a File Frame.
	MaxFileName = 255

	// DefaultMaxFileSize is the default limit for a File Frame's declared length.
	DefaultMaxFileSize = 100 * 1024 * 1024

	// MaxDatagram is the receive buffer size for discovery datagrams.
	MaxDatagram = 400
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateTextLine validates a chat line against MaxTextLine.
func ValidateTextLine(line []byte) error {
	if err := ValidateMessageSize(line, MaxTextLine); err != nil {
		return fmt.Errorf("text line: %w", err)
	}
	return nil
}

// ValidateFileName validates the length of a file name carried in a File Frame.
func ValidateFileName(name string) error {
	if err := ValidateMessageSize([]byte(name), MaxFileName); err != nil {
		return fmt.Errorf("file name: %w", err)
	}
	return nil
}

// ValidateFileSize validates a file length against maxSize. Zero length files
// are valid. A non-positive maxSize falls back to DefaultMaxFileSize.
func ValidateFileSize(size uint64, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if size > uint64(maxSize) {
		return fmt.Errorf("%w: file size %d exceeds limit %d", ErrMessageTooLarge, size, maxSize)
	}
	return nil
}
