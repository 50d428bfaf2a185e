package speaker

import (
	"encoding/binary"
	"io"
)

// resampler converts interleaved signed 16-bit little-endian PCM between
// sample rates by linear interpolation. State carries across chunks, so a
// stream can be fed in arbitrary pieces.
type resampler struct {
	channels int
	step     float64
	pos      float64
	pending  []int16
	carry    []byte
}

// newResampler returns nil when no conversion is needed. A nil resampler
// passes input through.
func newResampler(from, to, channels int) *resampler {
	if from <= 0 || to <= 0 || from == to {
		return nil
	}
	if channels <= 0 {
		channels = 1
	}
	return &resampler{channels: channels, step: float64(from) / float64(to)}
}

func (r *resampler) convert(in []byte) []byte {
	if r == nil {
		return in
	}
	if len(r.carry) > 0 {
		in = append(r.carry, in...)
		r.carry = nil
	}
	if len(in)%2 == 1 {
		r.carry = []byte{in[len(in)-1]}
		in = in[:len(in)-1]
	}
	for i := 0; i < len(in); i += 2 {
		r.pending = append(r.pending, int16(binary.LittleEndian.Uint16(in[i:])))
	}

	ch := r.channels
	frames := len(r.pending) / ch
	var out []byte
	for r.pos+1 < float64(frames) {
		i := int(r.pos)
		frac := r.pos - float64(i)
		for c := 0; c < ch; c++ {
			a := float64(r.pending[i*ch+c])
			b := float64(r.pending[(i+1)*ch+c])
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(a+(b-a)*frac)))
		}
		r.pos += r.step
	}
	if drop := min(int(r.pos), frames); drop > 0 {
		r.pending = append(r.pending[:0], r.pending[drop*ch:]...)
		r.pos -= float64(drop)
	}
	return out
}

// resampleReader resamples everything read from src.
type resampleReader struct {
	src   io.Reader
	conv  *resampler
	chunk []byte
	buf   []byte
}

func newResampleReader(src io.Reader, conv *resampler) io.Reader {
	if conv == nil {
		return src
	}
	return &resampleReader{src: src, conv: conv, chunk: make([]byte, 8192)}
}

func (r *resampleReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.conv.convert(r.chunk[:n])...)
		}
		if err != nil {
			if len(r.buf) == 0 {
				return 0, err
			}
			break
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// upmix duplicates each mono sample into a stereo frame.
func upmix(mono []byte) []byte {
	out := make([]byte, 0, len(mono)*2)
	for i := 0; i+1 < len(mono); i += 2 {
		out = append(out, mono[i], mono[i+1], mono[i], mono[i+1])
	}
	return out
}
