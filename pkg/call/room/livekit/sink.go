package livekit

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/vango-go/vai-call/pkg/call/room"
	"gopkg.in/hraban/opus.v2"
)

const (
	playbackChannels = 2
	// maxOpusFrameSamples is 120ms at 48 kHz, the longest Opus frame.
	maxOpusFrameSamples = 5760
)

// Output opens PCM streams on the local speaker.
type Output interface {
	OpenStream(sampleRate, channels int) (io.WriteCloser, error)
}

type frameDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// TrackStats counts traffic on an attached track.
type TrackStats struct {
	Packets      uint64
	Bytes        uint64
	Frames       uint64
	DecodeErrors uint64
}

// SpeakerSink plays every attached remote audio track. Each track's Opus
// payloads are decoded into its own output stream; the output mixes them.
// With a nil output the sink only consumes and counts packets.
type SpeakerSink struct {
	output     Output
	newDecoder func() (frameDecoder, error)
	logger     *slog.Logger

	mu     sync.Mutex
	tracks map[string]*trackPlayer
}

type trackPlayer struct {
	stopped atomic.Bool
	stream  io.WriteCloser

	packets      atomic.Uint64
	bytes        atomic.Uint64
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
}

// payloadReader returns the next RTP payload of a track.
type payloadReader func() ([]byte, error)

var errNotSubscribed = errors.New("track has no media stream")

func NewSpeakerSink(output Output, logger *slog.Logger) *SpeakerSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeakerSink{
		output: output,
		newDecoder: func() (frameDecoder, error) {
			return opus.NewDecoder(opusSampleRate, playbackChannels)
		},
		logger: logger,
		tracks: make(map[string]*trackPlayer),
	}
}

func (s *SpeakerSink) Attach(identity string, track room.RemoteTrack) error {
	withRemote, ok := track.(interface{ Remote() *webrtc.TrackRemote })
	if !ok {
		return errNotSubscribed
	}
	remote := withRemote.Remote()
	if remote == nil {
		return errNotSubscribed
	}
	return s.attach(identity, track.SID(), func() ([]byte, error) {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return nil, err
		}
		return pkt.Payload, nil
	})
}

func (s *SpeakerSink) attach(identity, sid string, read payloadReader) error {
	tp := &trackPlayer{}
	var dec frameDecoder
	if s.output != nil {
		var err error
		if dec, err = s.newDecoder(); err != nil {
			return err
		}
		if tp.stream, err = s.output.OpenStream(opusSampleRate, playbackChannels); err != nil {
			return err
		}
	}

	key := identity + "/" + sid
	s.mu.Lock()
	prev := s.tracks[key]
	s.tracks[key] = tp
	s.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	go s.run(key, tp, dec, read)
	return nil
}

func (s *SpeakerSink) run(key string, tp *trackPlayer, dec frameDecoder, read payloadReader) {
	defer tp.stop()

	var pcm []int16
	var out []byte
	if dec != nil {
		pcm = make([]int16, maxOpusFrameSamples*playbackChannels)
	}
	for !tp.stopped.Load() {
		payload, err := read()
		if err != nil {
			if !tp.stopped.Load() {
				s.logger.Debug("remote track ended", "track", key, "error", err)
			}
			return
		}
		tp.packets.Add(1)
		tp.bytes.Add(uint64(len(payload)))
		if dec == nil || len(payload) == 0 {
			continue
		}

		n, err := dec.Decode(payload, pcm)
		if err != nil {
			tp.decodeErrors.Add(1)
			continue
		}
		out = out[:0]
		for _, v := range pcm[:n*playbackChannels] {
			out = binary.LittleEndian.AppendUint16(out, uint16(v))
		}
		if _, err := tp.stream.Write(out); err != nil {
			if !tp.stopped.Load() {
				s.logger.Warn("remote audio output failed", "track", key, "error", err)
			}
			return
		}
		tp.frames.Add(1)
	}
}

func (tp *trackPlayer) stop() {
	if tp.stopped.Swap(true) {
		return
	}
	if tp.stream != nil {
		_ = tp.stream.Close()
	}
}

// Detach silences the track immediately. The reader exits on its next packet
// or when the transport closes the track.
func (s *SpeakerSink) Detach(identity, sid string) {
	key := identity + "/" + sid
	s.mu.Lock()
	tp := s.tracks[key]
	delete(s.tracks, key)
	s.mu.Unlock()
	if tp != nil {
		tp.stop()
	}
}

// Stats returns the counters of an attached track.
func (s *SpeakerSink) Stats(identity, sid string) (TrackStats, bool) {
	s.mu.Lock()
	tp := s.tracks[identity+"/"+sid]
	s.mu.Unlock()
	if tp == nil {
		return TrackStats{}, false
	}
	return TrackStats{
		Packets:      tp.packets.Load(),
		Bytes:        tp.bytes.Load(),
		Frames:       tp.frames.Load(),
		DecodeErrors: tp.decodeErrors.Load(),
	}, true
}
