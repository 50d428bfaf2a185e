package speaker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
	"github.com/vango-go/vai-call/pkg/call/playback"
	"github.com/vango-go/vai-call/pkg/core"
)

const (
	maxClipBytes = 32 << 20
	pollInterval = 50 * time.Millisecond
)

// ClipSink plays MP3 clips on a Device. Clips at a rate other than the
// device's are resampled.
type ClipSink struct {
	device     *Device
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	clips  map[string]*clip
	closed bool
}

type clip struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	player *oto.Player
	paused bool
}

func NewClipSink(device *Device, httpClient *http.Client, logger *slog.Logger) *ClipSink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClipSink{
		device:     device,
		httpClient: httpClient,
		logger:     logger,
		clips:      make(map[string]*clip),
	}
}

func (s *ClipSink) Play(clipID, url string, report func(playback.ClipEvent, error)) error {
	if strings.TrimSpace(url) == "" {
		return core.NewInvalidRequestError("clip url must not be empty")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.NewInvalidStateError("speaker is closed")
	}
	if prev, ok := s.clips[clipID]; ok {
		prev.stop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &clip{cancel: cancel}
	s.clips[clipID] = c
	s.mu.Unlock()

	go s.run(ctx, clipID, url, c, report)
	return nil
}

func (s *ClipSink) Pause(clipID string) {
	s.mu.Lock()
	c := s.clips[clipID]
	s.mu.Unlock()
	if c != nil {
		c.stop()
	}
}

func (s *ClipSink) Close() error {
	s.mu.Lock()
	s.closed = true
	clips := s.clips
	s.clips = make(map[string]*clip)
	s.mu.Unlock()
	for _, c := range clips {
		c.stop()
	}
	return nil
}

func (s *ClipSink) run(ctx context.Context, clipID, url string, c *clip, report func(playback.ClipEvent, error)) {
	defer s.forget(clipID, c)

	data, err := s.fetch(ctx, url)
	if err != nil {
		if c.isPaused() {
			report(playback.ClipPaused, nil)
			return
		}
		report(playback.ClipFailed, err)
		return
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		report(playback.ClipFailed, fmt.Errorf("decode mp3: %w", err))
		return
	}
	if decoder.SampleRate() != s.device.SampleRate() {
		s.logger.Debug("resampling clip", "clip", clipID, "from", decoder.SampleRate(), "to", s.device.SampleRate())
	}
	src := newResampleReader(decoder, newResampler(decoder.SampleRate(), s.device.SampleRate(), channelCount))
	p, err := s.device.newPlayer(src)
	if err != nil {
		report(playback.ClipFailed, err)
		return
	}
	defer p.Close()
	if !c.start(p) {
		report(playback.ClipPaused, nil)
		return
	}
	report(playback.ClipStarted, nil)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for p.IsPlaying() {
		<-ticker.C
	}
	switch {
	case c.isPaused():
		report(playback.ClipPaused, nil)
	case p.Err() != nil:
		report(playback.ClipFailed, p.Err())
	default:
		report(playback.ClipEnded, nil)
	}
}

func (s *ClipSink) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(rawURL), "data:") {
		return playback.DecodeDataURL(rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, core.NewTransportError("GET", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewTransportError("GET", rawURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxClipBytes))
}

func (s *ClipSink) forget(clipID string, c *clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clips[clipID] == c {
		delete(s.clips, clipID)
	}
}

func (c *clip) start(p *oto.Player) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return false
	}
	c.player = p
	p.Play()
	return true
}

func (c *clip) stop() {
	c.mu.Lock()
	c.paused = true
	p := c.player
	c.mu.Unlock()
	c.cancel()
	if p != nil {
		p.Pause()
	}
}

func (c *clip) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}
