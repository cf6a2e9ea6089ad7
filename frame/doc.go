// Package frame implements the Frame Multiplexer that lets chat text and file
// payloads share one peer stream.
//
// # Wire Format
//
// A Text Frame is the raw bytes of one line, delimited only by the boundary
// of the write (one encrypted record) that carried it:
//
//	line-bytes            (must not begin with 0x00)
//
// A File Frame starts with the sentinel byte 0x00:
//
//	0x00 | name-bytes | 0x00 | length:u32-big-endian | content[length]
//
// The declared content may arrive split across many reads. Any chunk whose
// first byte is 0x00 is decoded as a File Frame; a text line that happens to
// start with 0x00 is therefore indistinguishable from a file and is refused
// by EncodeText.
//
// # Reassembly
//
// Two ways of completing a file are offered. CompleteFile blocks on an
// io.Reader until the declared length is reached, for callers that own the
// stream. Assembler is the non-blocking variant used by the event loop: it is
// fed one chunk per read event and keeps the partial file between events, so
// a slow transfer never stalls other peers.
//
//	asm := frame.NewAssembler(maxFileSize)
//	frames, err := asm.Feed(chunk)
//	for _, f := range frames {
//	    switch f.Kind {
//	    case frame.KindText:
//	    case frame.KindFile:
//	    }
//	}
package frame
