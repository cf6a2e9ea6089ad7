package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/opd-ai/dchat/limits"
)

// Sentinel is the first byte of every File Frame.
const Sentinel byte = 0x00

// lengthSize is the size of the File Frame length field.
const lengthSize = 4

var (
	// ErrMalformed indicates a sentinel chunk that is not a valid File Frame header.
	ErrMalformed = errors.New("malformed file frame")
	// ErrFileTooLarge indicates a declared length above the configured limit.
	ErrFileTooLarge = errors.New("declared file size too large")
	// ErrTextSentinel indicates a text line that starts with the sentinel byte.
	ErrTextSentinel = errors.New("text line starts with file frame sentinel")
	// ErrInvalidName indicates a file name that cannot be framed.
	ErrInvalidName = errors.New("invalid file name")
)

// Kind distinguishes decoded frames.
type Kind uint8

const (
	// KindInvalid marks a chunk that starts with the sentinel but has no valid header.
	KindInvalid Kind = iota
	// KindText is a chat line.
	KindText
	// KindFile is a file transfer.
	KindFile
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	default:
		return "invalid"
	}
}

// Decoded is the result of TryDecode on one chunk.
type Decoded struct {
	Kind Kind
	// Text holds the entire chunk for KindText.
	Text []byte
	// Name, Size and Content describe the start of a KindFile. Content holds
	// at most Size bytes; it is complete when len(Content) == Size.
	Name    string
	Size    uint32
	Content []byte
	// Rest holds bytes following the declared content in the same chunk.
	Rest []byte
	// Err explains a KindInvalid result.
	Err error
}

// Complete reports whether a KindFile result already carries all its content.
func (d Decoded) Complete() bool {
	return d.Kind == KindFile && uint32(len(d.Content)) == d.Size
}

// EncodeText returns the Text Frame for line, which is the line itself.
func EncodeText(line []byte) ([]byte, error) {
	if err := limits.ValidateTextLine(line); err != nil {
		return nil, err
	}
	if line[0] == Sentinel {
		return nil, ErrTextSentinel
	}
	return line, nil
}

// EncodeFile returns the File Frame carrying content under name.
func EncodeFile(name string, content []byte) ([]byte, error) {
	if err := limits.ValidateFileName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return nil, fmt.Errorf("%w: name contains NUL", ErrInvalidName)
	}
	if uint64(len(content)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes does not fit the length field", ErrFileTooLarge, len(content))
	}

	out := make([]byte, 0, 1+len(name)+1+lengthSize+len(content))
	out = append(out, Sentinel)
	out = append(out, name...)
	out = append(out, 0)
	out = binary.BigEndian.AppendUint32(out, uint32(len(content)))
	return append(out, content...), nil
}

// TryDecode inspects one chunk. A chunk that does not start with the
// sentinel is a Text Frame in its entirety. TryDecode never reads.
func TryDecode(buf []byte) Decoded {
	if len(buf) == 0 || buf[0] != Sentinel {
		return Decoded{Kind: KindText, Text: buf}
	}

	nul := bytes.IndexByte(buf[1:], 0)
	if nul < 0 {
		return Decoded{Kind: KindInvalid, Err: fmt.Errorf("%w: missing name terminator", ErrMalformed)}
	}
	nameEnd := 1 + nul
	lengthStart := nameEnd + 1
	if len(buf) < lengthStart+lengthSize {
		return Decoded{Kind: KindInvalid, Err: fmt.Errorf("%w: truncated length field", ErrMalformed)}
	}

	size := binary.BigEndian.Uint32(buf[lengthStart:])
	content := buf[lengthStart+lengthSize:]
	var rest []byte
	if uint64(len(content)) > uint64(size) {
		rest = content[size:]
		content = content[:size]
	}

	return Decoded{
		Kind:    KindFile,
		Name:    string(buf[1:nameEnd]),
		Size:    size,
		Content: content,
		Rest:    rest,
	}
}

// CompleteFile returns exactly size bytes of content, reading whatever is
// missing from partial off r. It blocks until the content is complete and
// performs no read when partial already holds size bytes.
func CompleteFile(r io.Reader, partial []byte, size uint32) ([]byte, error) {
	if uint64(len(partial)) >= uint64(size) {
		return partial[:size], nil
	}
	content := make([]byte, size)
	n := copy(content, partial)
	if _, err := io.ReadFull(r, content[n:]); err != nil {
		return nil, fmt.Errorf("read file content (%d of %d bytes): %w", n, size, err)
	}
	return content, nil
}
