package frame

import (
	"fmt"

	"github.com/opd-ai/dchat/limits"
)

// Frame is one fully received unit.
type Frame struct {
	Kind    Kind
	Text    []byte
	Name    string
	Content []byte
}

type pendingFile struct {
	name    string
	size    uint32
	content []byte
}

// Assembler reassembles frames from the chunks of one peer stream. It keeps
// the partial state of at most one file between calls. An Assembler is not
// safe for concurrent use; the event loop owns one per peer.
type Assembler struct {
	maxFileSize int64
	pending     *pendingFile
}

// NewAssembler creates an Assembler refusing files declared larger than
// maxFileSize bytes (non-positive means limits.DefaultMaxFileSize).
func NewAssembler(maxFileSize int64) *Assembler {
	return &Assembler{maxFileSize: maxFileSize}
}

// Feed consumes one chunk and returns the frames it completed. While a file
// is in progress, bytes are taken as content up to the declared length; any
// surplus in the same chunk is decoded as the start of a new frame.
//
// An error wrapping ErrMalformed means the offending chunk was dropped and
// the stream may continue. ErrFileTooLarge leaves the stream unusable.
func (a *Assembler) Feed(chunk []byte) ([]Frame, error) {
	var frames []Frame

	for len(chunk) > 0 {
		if a.pending != nil {
			need := int(a.pending.size) - len(a.pending.content)
			take := need
			if len(chunk) < take {
				take = len(chunk)
			}
			a.pending.content = append(a.pending.content, chunk[:take]...)
			chunk = chunk[take:]

			if len(a.pending.content) == int(a.pending.size) {
				frames = append(frames, Frame{Kind: KindFile, Name: a.pending.name, Content: a.pending.content})
				a.pending = nil
			}
			continue
		}

		d := TryDecode(chunk)
		switch d.Kind {
		case KindText:
			frames = append(frames, Frame{Kind: KindText, Text: append([]byte(nil), chunk...)})
			chunk = nil

		case KindInvalid:
			return frames, d.Err

		case KindFile:
			if err := limits.ValidateFileSize(uint64(d.Size), a.maxFileSize); err != nil {
				return frames, fmt.Errorf("%w: %v", ErrFileTooLarge, err)
			}
			content := append(make([]byte, 0, len(d.Content)), d.Content...)
			if d.Complete() {
				frames = append(frames, Frame{Kind: KindFile, Name: d.Name, Content: content})
			} else {
				a.pending = &pendingFile{name: d.Name, size: d.Size, content: content}
			}
			chunk = d.Rest
		}
	}

	return frames, nil
}

// Progress reports the file currently being reassembled, if any.
func (a *Assembler) Progress() (name string, received, size uint32, ok bool) {
	if a.pending == nil {
		return "", 0, 0, false
	}
	return a.pending.name, uint32(len(a.pending.content)), a.pending.size, true
}

// Reset discards any partial file.
func (a *Assembler) Reset() {
	a.pending = nil
}
