package livekit

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"gopkg.in/hraban/opus.v2"
)

const (
	opusSampleRate   = 48000
	opusFrameMS      = 20
	opusFrameSamples = opusSampleRate * opusFrameMS / 1000
	maxOpusPacket    = 4000

	microphoneTrackName = "microphone"
)

// MicrophoneFormat is the capture format the published microphone track
// encodes: 48 kHz mono signed 16-bit PCM.
func MicrophoneFormat() capture.Format {
	return capture.Format{SampleRate: opusSampleRate, Channels: 1, BitsPerSample: 16}
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// micPublisher cuts microphone PCM into 20ms Opus frames for a local track.
// Nothing is sent while muted.
type micPublisher struct {
	enc    frameEncoder
	write  func(media.Sample) error
	logger *slog.Logger

	mu      sync.Mutex
	muted   bool
	pending []int16
	carry   []byte
	packet  []byte
	frames  uint64
}

func newMicPublisher(enc frameEncoder, write func(media.Sample) error, logger *slog.Logger) *micPublisher {
	return &micPublisher{
		enc:    enc,
		write:  write,
		logger: logger,
		packet: make([]byte, maxOpusPacket),
	}
}

func (p *micPublisher) onChunk(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.muted {
		return
	}
	if len(p.carry) > 0 {
		chunk = append(p.carry, chunk...)
		p.carry = nil
	}
	if len(chunk)%2 == 1 {
		p.carry = []byte{chunk[len(chunk)-1]}
		chunk = chunk[:len(chunk)-1]
	}
	for i := 0; i < len(chunk); i += 2 {
		p.pending = append(p.pending, int16(binary.LittleEndian.Uint16(chunk[i:])))
	}

	for len(p.pending) >= opusFrameSamples {
		frame := p.pending[:opusFrameSamples]
		n, err := p.enc.Encode(frame, p.packet)
		p.pending = p.pending[opusFrameSamples:]
		if err != nil {
			p.logger.Debug("opus encode failed", "error", err)
			continue
		}
		sample := media.Sample{Data: append([]byte(nil), p.packet[:n]...), Duration: opusFrameMS * time.Millisecond}
		if err := p.write(sample); err != nil {
			p.logger.Debug("microphone sample dropped", "error", err)
			continue
		}
		p.frames++
	}
	p.pending = append([]int16(nil), p.pending...)
}

// setMuted stops or resumes sending; audio captured while muted is dropped.
func (p *micPublisher) setMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	p.pending = p.pending[:0]
	p.carry = nil
}

func (p *micPublisher) sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// publishMicrophone publishes an Opus track fed by src. The room stays usable
// without it, so callers treat a failure as listen-only.
func (c *connection) publishMicrophone(ctx context.Context, src capture.MicrophoneSource) error {
	enc, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  2,
	})
	if err != nil {
		return fmt.Errorf("microphone track: %w", err)
	}
	pub, err := c.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: microphoneTrackName})
	if err != nil {
		return fmt.Errorf("publish microphone: %w", err)
	}

	mic := newMicPublisher(enc, func(s media.Sample) error { return track.WriteSample(s, nil) }, c.logger)
	stream, err := src.Open(ctx, mic.onChunk)
	if err != nil {
		_ = c.room.LocalParticipant.UnpublishTrack(pub.SID())
		return fmt.Errorf("open microphone: %w", err)
	}

	c.mu.Lock()
	c.mic = mic
	c.micPub = pub
	c.micStream = stream
	c.mu.Unlock()
	c.logger.Info("microphone published", "track", pub.SID())
	return nil
}
