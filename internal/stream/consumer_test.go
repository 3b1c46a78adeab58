package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkReader returns one chunk per Read. When eofWithLast is set, the last
// chunk is returned together with io.EOF.
type chunkReader struct {
	chunks      [][]byte
	eofWithLast bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	n := copy(p, c)
	if r.eofWithLast && len(r.chunks) == 0 {
		return n, io.EOF
	}
	return n, nil
}

func byteChunks(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestConsume_ProgressiveSnapshots(t *testing.T) {
	for _, eofWithLast := range []bool{true, false} {
		r := &chunkReader{chunks: byteChunks("The ", "sky is ", "blue."), eofWithLast: eofWithLast}

		var got []string
		answer, err := Consumer{}.Consume(context.Background(), r, func(s string) {
			got = append(got, s)
		})
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}

		want := []string{"The ", "The sky is ", "The sky is blue."}
		if len(got) != len(want) {
			t.Fatalf("eofWithLast=%v: got %d snapshots %q, want %d", eofWithLast, len(got), got, len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("snapshot[%d] = %q, want %q", i, got[i], want[i])
			}
		}
		if answer != "The sky is blue." {
			t.Errorf("answer = %q", answer)
		}
	}
}

func TestConsume_SplitMultiByteRunes(t *testing.T) {
	text := "héllo wörld — 日本語 🌍!"
	raw := []byte(text)

	// Every possible chunk size, including 1 byte, splits runes somewhere.
	for size := 1; size <= len(raw); size++ {
		var chunks [][]byte
		for i := 0; i < len(raw); i += size {
			end := min(i+size, len(raw))
			chunks = append(chunks, raw[i:end])
		}

		var last string
		answer, err := Consumer{}.Consume(context.Background(), &chunkReader{chunks: chunks}, func(s string) {
			if !strings.HasPrefix(s, last) {
				t.Fatalf("size %d: snapshot %q does not extend previous %q", size, s, last)
			}
			last = s
		})
		if err != nil {
			t.Fatalf("size %d: Consume: %v", size, err)
		}
		if answer != text {
			t.Fatalf("size %d: answer = %q, want %q", size, answer, text)
		}
		if strings.ContainsRune(answer, '�') {
			t.Fatalf("size %d: answer contains replacement char", size)
		}
	}
}

func TestConsume_TruncatedRuneAtEOF(t *testing.T) {
	raw := []byte("ok ")
	raw = append(raw, []byte("日")[:2]...)

	answer, err := Consumer{}.Consume(context.Background(), &chunkReader{chunks: [][]byte{raw}}, nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if answer != "ok �" {
		t.Errorf("answer = %q, want trailing replacement char", answer)
	}
}

func TestConsume_EmptyStream(t *testing.T) {
	calls := 0
	answer, err := Consumer{}.Consume(context.Background(), &chunkReader{}, func(string) { calls++ })
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if answer != "" || calls != 0 {
		t.Errorf("answer = %q, calls = %d", answer, calls)
	}
}

func TestConsume_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &chunkReader{chunks: byteChunks("first ", "second")}

	answer, err := Consumer{}.Consume(ctx, r, func(s string) {
		if s == "first " {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if answer != "first " {
		t.Errorf("answer = %q, want partial %q", answer, "first ")
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestConsume_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := Consumer{}.Consume(context.Background(), failingReader{err: boom}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestDecoder_HoldsPartialRune(t *testing.T) {
	var d Decoder
	euro := []byte("€") // 3 bytes

	if got := d.Decode(euro[:1]); got != "" {
		t.Errorf("Decode(first byte) = %q, want empty", got)
	}
	if got := d.Decode(euro[1:2]); got != "" {
		t.Errorf("Decode(second byte) = %q, want empty", got)
	}
	if got := d.Decode(euro[2:]); got != "€" {
		t.Errorf("Decode(last byte) = %q, want €", got)
	}
	if got := d.Flush(); got != "" {
		t.Errorf("Flush = %q, want empty", got)
	}
}
