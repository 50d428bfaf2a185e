package speaker

import (
	"io"
	"sync"
)

// maxBufferedMS bounds how far a live stream may lag behind its writer;
// older audio is dropped past this point.
const maxBufferedMS = 500

const frameBytes = channelCount * bytesPerSample

// Stream plays a continuous PCM feed, such as a remote participant's audio.
// Playback starts on the first Write.
type Stream struct {
	channels int
	conv     *resampler
	maxBuf   int
	open     func(io.Reader) (player, error)

	mu      sync.Mutex
	buf     []byte
	player  player
	started bool
	closed  bool
	dropped int
}

// OpenStream returns a stream for interleaved signed 16-bit little-endian PCM
// at sampleRate with one or two channels.
func (d *Device) OpenStream(sampleRate, channels int) (io.WriteCloser, error) {
	return newStream(sampleRate, channels, d.sampleRate, func(r io.Reader) (player, error) {
		return d.newPlayer(r)
	}), nil
}

func newStream(sampleRate, channels, deviceRate int, open func(io.Reader) (player, error)) *Stream {
	if channels != 1 {
		channels = channelCount
	}
	return &Stream{
		channels: channels,
		conv:     newResampler(sampleRate, deviceRate, channelCount),
		maxBuf:   deviceRate * channelCount * bytesPerSample * maxBufferedMS / 1000,
		open:     open,
	}
}

func (s *Stream) Write(p []byte) (int, error) {
	pcm := p
	if s.channels == 1 {
		pcm = upmix(pcm)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	s.buf = append(s.buf, s.conv.convert(pcm)...)
	if over := len(s.buf) - s.maxBuf; over > 0 {
		if r := over % frameBytes; r != 0 {
			over += frameBytes - r
		}
		over = min(over, len(s.buf))
		s.buf = s.buf[over:]
		s.dropped += over
	}
	start := !s.started
	s.started = true
	s.mu.Unlock()

	if start {
		if err := s.start(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// start opens the player outside the lock; the player may read while
// starting.
func (s *Stream) start() error {
	pl, err := s.open(s)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pl.Close()
	}
	s.player = pl
	s.mu.Unlock()
	pl.Play()
	return nil
}

// Read implements io.Reader for the output player. It never blocks: when
// the writer has fallen behind it returns silence.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		clear(p)
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Dropped reports how many bytes were discarded to bound latency.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	pl := s.player
	s.mu.Unlock()

	if pl != nil {
		return pl.Close()
	}
	return nil
}
