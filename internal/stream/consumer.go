// Package stream drives an unframed completion response to its end,
// decoding UTF-8 incrementally and reporting the accumulated answer after
// every chunk.
package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

const defaultChunkSize = 4096

// Decoder converts a byte stream to text, holding back a trailing partial
// rune until the bytes that complete it arrive.
type Decoder struct {
	pending []byte
}

// Decode returns the text for p plus any held-back bytes. Invalid sequences
// are replaced with U+FFFD.
func (d *Decoder) Decode(p []byte) string {
	buf := append(d.pending, p...)
	cut := completePrefix(buf)
	d.pending = append([]byte(nil), buf[cut:]...)
	return strings.ToValidUTF8(string(buf[:cut]), string(utf8.RuneError))
}

// Flush returns whatever is still held back. A truncated rune at the end of
// the stream decodes to U+FFFD.
func (d *Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(d.pending), string(utf8.RuneError))
	d.pending = nil
	return s
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside an incomplete multi-byte rune.
func completePrefix(b []byte) int {
	// A rune is at most utf8.UTFMax bytes, so only the tail needs inspecting.
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

// Consumer reads a response body to completion.
type Consumer struct {
	ChunkSize int
}

// Consume reads r until EOF, appending decoded text to the answer and calling
// emit with the full accumulated answer after every chunk that carried bytes,
// including the chunk delivered together with EOF. It returns the final
// answer. When ctx is done between reads, Consume stops with ctx.Err() and
// returns the answer accumulated so far.
func (c Consumer) Consume(ctx context.Context, r io.Reader, emit func(answer string)) (string, error) {
	size := c.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	buf := make([]byte, size)

	var (
		dec    Decoder
		answer strings.Builder
	)
	for {
		if err := ctx.Err(); err != nil {
			return answer.String(), err
		}

		n, err := r.Read(buf)
		if n > 0 {
			answer.WriteString(dec.Decode(buf[:n]))
			if errors.Is(err, io.EOF) {
				answer.WriteString(dec.Flush())
			}
			if emit != nil {
				emit(answer.String())
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return answer.String(), ctxErr
				}
				return answer.String(), err
			}
			if tail := dec.Flush(); tail != "" {
				answer.WriteString(tail)
				if emit != nil {
					emit(answer.String())
				}
			}
			return answer.String(), nil
		}
	}
}
