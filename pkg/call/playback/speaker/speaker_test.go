package speaker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestNewResampler_SameRateIsPassthrough(t *testing.T) {
	if r := newResampler(24000, 24000, 2); r != nil {
		t.Fatalf("resampler for equal rates")
	}
	in := pcm(1, 2, 3)
	var r *resampler
	if got := r.convert(in); !bytes.Equal(got, in) {
		t.Fatalf("nil resampler changed input")
	}
}

func TestResampler_UpsamplesByInterpolation(t *testing.T) {
	r := newResampler(1, 2, 1)
	got := samples(r.convert(pcm(0, 100, 200)))
	want := []int16{0, 50, 100, 150}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResampler_ChunkingMatchesWholeInput(t *testing.T) {
	in := make([]int16, 0, 2*441)
	for i := 0; i < 441; i++ {
		v := int16(i * 50)
		in = append(in, v, -v)
	}
	whole := newResampler(48000, 32000, 2).convert(pcm(in...))

	chunked := newResampler(48000, 32000, 2)
	raw := pcm(in...)
	var got []byte
	// Odd chunk sizes split samples and frames.
	for len(raw) > 0 {
		n := min(37, len(raw))
		got = append(got, chunked.convert(raw[:n])...)
		raw = raw[n:]
	}
	if !bytes.Equal(got, whole) {
		t.Fatalf("chunked output differs: %d vs %d bytes", len(got), len(whole))
	}
	if frames := len(whole) / 4; frames != 294 {
		t.Fatalf("frames=%d, want 294", frames)
	}
}

func TestResampleReader_DrainsSource(t *testing.T) {
	src := bytes.NewReader(pcm(0, 0, 100, 100, 200, 200))
	out, err := io.ReadAll(newResampleReader(src, newResampler(1, 2, 2)))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got := samples(out); len(got) != 8 || got[2] != 50 || got[3] != 50 {
		t.Fatalf("samples=%v", got)
	}
}

func TestUpmix(t *testing.T) {
	got := samples(upmix(pcm(7, -3)))
	if len(got) != 4 || got[0] != 7 || got[1] != 7 || got[2] != -3 || got[3] != -3 {
		t.Fatalf("upmix=%v", got)
	}
}

type fakePlayer struct {
	mu      sync.Mutex
	src     io.Reader
	playing bool
	closed  bool
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestStream_StartsOnFirstWriteAndPlaysInOrder(t *testing.T) {
	var opened []*fakePlayer
	s := newStream(24000, 2, 24000, func(r io.Reader) (player, error) {
		p := &fakePlayer{src: r}
		opened = append(opened, p)
		return p, nil
	})

	if _, err := s.Write(pcm(1, 2)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Write(pcm(3, 4)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(opened) != 1 || !opened[0].playing {
		t.Fatalf("players=%d", len(opened))
	}

	buf := make([]byte, 8)
	n, _ := s.Read(buf)
	if got := samples(buf[:n]); len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("read=%v", got)
	}
	// Underrun plays silence instead of blocking the output.
	n, err := s.Read(buf)
	if err != nil || n != len(buf) || !bytes.Equal(buf, make([]byte, 8)) {
		t.Fatalf("underrun n=%d err=%v buf=%v", n, err, buf)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !opened[0].closed {
		t.Fatalf("player not closed")
	}
	if _, err := s.Write(pcm(5, 6)); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("write after close err=%v", err)
	}
}

func TestStream_MonoIsUpmixedAndLagIsBounded(t *testing.T) {
	s := newStream(1000, 1, 1000, func(r io.Reader) (player, error) { return &fakePlayer{src: r}, nil })

	// One second of mono at 1 kHz; the stream keeps maxBufferedMS of stereo.
	mono := make([]int16, 1000)
	for i := range mono {
		mono[i] = int16(i)
	}
	if _, err := s.Write(pcm(mono...)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := 1000 * frameBytes * maxBufferedMS / 1000
	if len(s.buf) != want || s.Dropped() != 1000*frameBytes-want {
		t.Fatalf("buffered=%d dropped=%d", len(s.buf), s.Dropped())
	}
	got := samples(s.buf[:8])
	if got[0] != got[1] || got[0] != int16(1000-maxBufferedMS) {
		t.Fatalf("head=%v", got)
	}
}

func TestStream_OpenFailureIsRetried(t *testing.T) {
	fail := true
	s := newStream(24000, 2, 24000, func(r io.Reader) (player, error) {
		if fail {
			return nil, errors.New("no device")
		}
		return &fakePlayer{src: r}, nil
	})
	if _, err := s.Write(pcm(1, 1)); err == nil {
		t.Fatalf("expected open error")
	}
	fail = false
	if _, err := s.Write(pcm(1, 1)); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if s.player == nil {
		t.Fatalf("player not started after retry")
	}
}
