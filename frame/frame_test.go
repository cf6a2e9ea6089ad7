package frame

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dchat/limits"
)

// failReader fails the test if it is ever read from.
type failReader struct{ t *testing.T }

func (r failReader) Read([]byte) (int, error) {
	r.t.Fatal("unexpected read")
	return 0, io.EOF
}

// chunkReader returns at most size bytes per Read.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func randomContent(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestEncodeText(t *testing.T) {
	out, err := EncodeText([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out, "text frames carry the line unchanged")

	_, err = EncodeText([]byte{0x00, 'h', 'i'})
	assert.ErrorIs(t, err, ErrTextSentinel)

	_, err = EncodeText(nil)
	assert.ErrorIs(t, err, limits.ErrMessageEmpty)

	_, err = EncodeText(make([]byte, limits.MaxTextLine+1))
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
}

func TestEncodeFileLayout(t *testing.T) {
	out, err := EncodeFile("report.txt", []byte("abc"))
	require.NoError(t, err)

	want := []byte{0x00}
	want = append(want, "report.txt"...)
	want = append(want, 0x00, 0x00, 0x00, 0x00, 0x03)
	want = append(want, "abc"...)
	assert.Equal(t, want, out)
}

func TestEncodeFileRejectsBadNames(t *testing.T) {
	_, err := EncodeFile("", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = EncodeFile("a\x00b", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = EncodeFile(string(bytes.Repeat([]byte("n"), limits.MaxFileName+1)), nil)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestTryDecodeText(t *testing.T) {
	d := TryDecode([]byte("hi there"))
	assert.Equal(t, KindText, d.Kind)
	assert.Equal(t, []byte("hi there"), d.Text)
	assert.Equal(t, "text", d.Kind.String())
}

func TestTryDecodeFile(t *testing.T) {
	encoded, err := EncodeFile("a.bin", []byte("0123456789"))
	require.NoError(t, err)

	d := TryDecode(encoded[:len(encoded)-4])
	assert.Equal(t, KindFile, d.Kind)
	assert.Equal(t, "a.bin", d.Name)
	assert.Equal(t, uint32(10), d.Size)
	assert.Equal(t, []byte("012345"), d.Content)
	assert.False(t, d.Complete())
	assert.Nil(t, d.Rest)

	full := TryDecode(encoded)
	assert.True(t, full.Complete())
}

func TestTryDecodeRest(t *testing.T) {
	encoded, err := EncodeFile("a", []byte("xy"))
	require.NoError(t, err)
	d := TryDecode(append(encoded, "tail"...))

	assert.True(t, d.Complete())
	assert.Equal(t, []byte("xy"), d.Content)
	assert.Equal(t, []byte("tail"), d.Rest)
}

func TestTryDecodeMalformed(t *testing.T) {
	d := TryDecode([]byte{0x00, 'a', 'b'})
	assert.Equal(t, KindInvalid, d.Kind)
	assert.ErrorIs(t, d.Err, ErrMalformed)
	assert.Equal(t, "invalid", d.Kind.String())

	d = TryDecode([]byte{0x00, 'a', 0x00, 0x00, 0x01})
	assert.Equal(t, KindInvalid, d.Kind)
	assert.ErrorIs(t, d.Err, ErrMalformed)
}

// TestSentinelTextIsDecodedAsFile pins the documented ambiguity: a text chunk
// starting with 0x00 takes the File Frame path, never the text path.
func TestSentinelTextIsDecodedAsFile(t *testing.T) {
	chunk := []byte{0x00, 'h', 'i', 0x00, 0x00, 0x00, 0x00, 0x02, '!', '?'}
	d := TryDecode(chunk)
	assert.Equal(t, KindFile, d.Kind)
	assert.Equal(t, "hi", d.Name)
	assert.Equal(t, []byte("!?"), d.Content)

	noTerminator := TryDecode([]byte("\x00hello world"))
	assert.NotEqual(t, KindText, noTerminator.Kind)
}

// TestFileRoundTrip encodes content, decodes the first chunk and completes
// the file from readers that split the remainder at different boundaries.
func TestFileRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 4095, 4096, 1000000}
	splits := map[string]func([]byte) io.Reader{
		"one-byte": func(b []byte) io.Reader { return iotest.OneByteReader(bytes.NewReader(b)) },
		"half":     func(b []byte) io.Reader { return iotest.HalfReader(bytes.NewReader(b)) },
		"4000":     func(b []byte) io.Reader { return &chunkReader{data: b, size: 4000} },
		"whole":    func(b []byte) io.Reader { return bytes.NewReader(b) },
	}

	for _, size := range sizes {
		content := randomContent(t, size)
		encoded, err := EncodeFile("blob.bin", content)
		require.NoError(t, err)

		for name, split := range splits {
			if name == "one-byte" && size > 4096 {
				continue
			}
			for _, first := range []int{len(encoded), 1 + len("blob.bin") + 1 + 4, 4000} {
				if first > len(encoded) {
					first = len(encoded)
				}
				d := TryDecode(encoded[:first])
				require.Equal(t, KindFile, d.Kind)
				require.Equal(t, uint32(size), d.Size)

				got, err := CompleteFile(split(encoded[first:]), d.Content, d.Size)
				require.NoError(t, err, "size=%d split=%s first=%d", size, name, first)
				require.True(t, bytes.Equal(content, got), "size=%d split=%s first=%d", size, name, first)
			}
		}
	}
}

func TestCompleteFileNoReadWhenComplete(t *testing.T) {
	encoded, err := EncodeFile("done.txt", []byte("all here"))
	require.NoError(t, err)

	d := TryDecode(encoded)
	require.True(t, d.Complete())

	got, err := CompleteFile(failReader{t}, d.Content, d.Size)
	require.NoError(t, err)
	assert.Equal(t, []byte("all here"), got)
}

func TestCompleteFileShortStream(t *testing.T) {
	_, err := CompleteFile(bytes.NewReader([]byte("ab")), []byte("x"), 10)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAssemblerTextAndFile(t *testing.T) {
	asm := NewAssembler(0)

	frames, err := asm.Feed([]byte("hello"))
	require.NoError(t, err)
	want := []Frame{{Kind: KindText, Text: []byte("hello")}}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("text frame mismatch (-want +got):\n%s", diff)
	}

	encoded, err := EncodeFile("f.txt", []byte("file body"))
	require.NoError(t, err)
	frames, err = asm.Feed(encoded)
	require.NoError(t, err)
	want = []Frame{{Kind: KindFile, Name: "f.txt", Content: []byte("file body")}}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Errorf("file frame mismatch (-want +got):\n%s", diff)
	}
}

// TestAssemblerSplitAtEveryBoundary feeds a file in two chunks split at each
// possible offset past the header and checks the content is reproduced.
func TestAssemblerSplitAtEveryBoundary(t *testing.T) {
	content := randomContent(t, 300)
	encoded, err := EncodeFile("split.bin", content)
	require.NoError(t, err)
	header := 1 + len("split.bin") + 1 + 4

	for cut := header; cut <= len(encoded); cut++ {
		asm := NewAssembler(0)
		frames, err := asm.Feed(encoded[:cut])
		require.NoError(t, err)

		if cut < len(encoded) {
			require.Empty(t, frames, "cut=%d", cut)
			name, received, size, ok := asm.Progress()
			require.True(t, ok)
			assert.Equal(t, "split.bin", name)
			assert.Equal(t, uint32(cut-header), received)
			assert.Equal(t, uint32(300), size)

			frames, err = asm.Feed(encoded[cut:])
			require.NoError(t, err)
		}

		require.Len(t, frames, 1, "cut=%d", cut)
		assert.Equal(t, KindFile, frames[0].Kind)
		assert.True(t, bytes.Equal(content, frames[0].Content), "cut=%d", cut)
		_, _, _, ok := asm.Progress()
		assert.False(t, ok)
	}
}

func TestAssemblerManySmallChunks(t *testing.T) {
	for _, size := range []int{0, 1, 4095, 4096, 1000000} {
		content := randomContent(t, size)
		encoded, err := EncodeFile("big.bin", content)
		require.NoError(t, err)

		asm := NewAssembler(0)
		header := 1 + len("big.bin") + 1 + 4
		frames, err := asm.Feed(encoded[:header])
		require.NoError(t, err)

		rest := encoded[header:]
		for len(rest) > 0 {
			n := 4000
			if n > len(rest) {
				n = len(rest)
			}
			more, err := asm.Feed(rest[:n])
			require.NoError(t, err)
			frames = append(frames, more...)
			rest = rest[n:]
		}

		require.Len(t, frames, 1, "size=%d", size)
		assert.True(t, bytes.Equal(content, frames[0].Content), "size=%d", size)
	}
}

func TestAssemblerSurplusStartsNewFrame(t *testing.T) {
	encoded, err := EncodeFile("a", []byte("12"))
	require.NoError(t, err)

	asm := NewAssembler(0)
	_, err = asm.Feed(encoded[:len(encoded)-1])
	require.NoError(t, err)

	frames, err := asm.Feed([]byte("2and text"))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, KindFile, frames[0].Kind)
	assert.Equal(t, []byte("12"), frames[0].Content)
	assert.Equal(t, KindText, frames[1].Kind)
	assert.Equal(t, []byte("and text"), frames[1].Text)
}

func TestAssemblerLimits(t *testing.T) {
	header := []byte{0x00, 'x', 0x00}
	header = binary.BigEndian.AppendUint32(header, 1<<20)

	asm := NewAssembler(1024)
	_, err := asm.Feed(header)
	assert.True(t, errors.Is(err, ErrFileTooLarge))

	asm = NewAssembler(0)
	_, err = asm.Feed([]byte{0x00, 'n', 'o', 'n', 'u', 'l'})
	assert.ErrorIs(t, err, ErrMalformed)

	// The stream continues after a malformed chunk.
	frames, err := asm.Feed([]byte("still here"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, KindText, frames[0].Kind)
}

func TestAssemblerReset(t *testing.T) {
	encoded, err := EncodeFile("r", []byte("abcdef"))
	require.NoError(t, err)

	asm := NewAssembler(0)
	_, err = asm.Feed(encoded[:len(encoded)-3])
	require.NoError(t, err)
	_, _, _, ok := asm.Progress()
	require.True(t, ok)

	asm.Reset()
	_, _, _, ok = asm.Progress()
	assert.False(t, ok)
}

// FuzzAssemblerFeed feeds arbitrary chunks; the assembler must never panic
// and never emit a file whose content differs from its declared length.
func FuzzAssemblerFeed(f *testing.F) {
	valid, _ := EncodeFile("seed.txt", []byte("seed content"))
	f.Add(valid)
	f.Add([]byte("plain text"))
	f.Add([]byte{0x00})
	f.Add([]byte{0x00, 'a', 0x00, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		asm := NewAssembler(1 << 16)
		frames, _ := asm.Feed(data)
		for _, fr := range frames {
			if fr.Kind == KindFile && bytes.IndexByte([]byte(fr.Name), 0) >= 0 {
				t.Fatalf("file name contains NUL: %q", fr.Name)
			}
		}
	})
}
