// Package capture records one utterance from the microphone while a speech
// recognizer mirrors it as text.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/core"
)

var (
	// ErrMicrophonePermission is returned by a MicrophoneSource when access
	// to the device was refused.
	ErrMicrophonePermission = errors.New("microphone access denied")
	// ErrNoMicrophone is returned by a MicrophoneSource when no input device exists.
	ErrNoMicrophone = errors.New("no microphone available")
	// ErrRecognizerUnsupported is returned by a SpeechRecognizer that cannot
	// run on this host. Capture continues with an empty transcript.
	ErrRecognizerUnsupported = errors.New("speech recognition is not supported")
)

// MicrophoneSource opens the capture device. onChunk receives raw PCM
// fragments in capture order and may be called from any goroutine.
type MicrophoneSource interface {
	Open(ctx context.Context, onChunk func([]byte)) (MicrophoneStream, error)
}

// MicrophoneStream is an open capture device. Close releases the hardware
// before returning.
type MicrophoneStream interface {
	Close() error
}

// SpeechRecognizer produces a running transcript. Each hypothesis replaces
// the previous one.
type SpeechRecognizer interface {
	Start(onHypothesis func(string)) (Recognition, error)
}

// Recognition is a running recognizer.
type Recognition interface {
	Stop()
}

// Format describes the PCM produced by the microphone.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is 16 kHz mono signed 16-bit PCM.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// RecordingState is a snapshot of the capture session.
type RecordingState struct {
	IsRecording       bool
	PendingTranscript string
	ChunkCount        int
	BufferedBytes     int
	// Level is the RMS level of the latest chunk and Peak the loudest sample
	// so far, both from 0 to 1. They stay 0 for formats other than 16-bit.
	Level float64
	Peak  float64
}

// Recording is a finalized capture.
type Recording struct {
	Audio      []byte
	MIMEType   string
	Transcript string
	Duration   time.Duration
	Chunks     int
}

// Option configures a Unit.
type Option func(*Unit)

// WithRecognizer sets the speech recognizer. Without one every transcript is empty.
func WithRecognizer(r SpeechRecognizer) Option {
	return func(u *Unit) {
		u.recognizer = r
	}
}

// WithFormat sets the PCM format written into the WAV header.
func WithFormat(f Format) Option {
	return func(u *Unit) {
		if f.SampleRate > 0 && f.Channels > 0 {
			if f.BitsPerSample <= 0 {
				f.BitsPerSample = 16
			}
			u.format = f
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(u *Unit) {
		if logger != nil {
			u.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Unit) {
		u.metrics = m
	}
}

// WithTranscriptListener is called with every new hypothesis while recording.
func WithTranscriptListener(fn func(string)) Option {
	return func(u *Unit) {
		u.onTranscript = fn
	}
}

// Unit owns the microphone for at most one capture at a time.
type Unit struct {
	mic          MicrophoneSource
	recognizer   SpeechRecognizer
	format       Format
	logger       *slog.Logger
	metrics      *metrics.Metrics
	onTranscript func(string)
	now          func() time.Time

	mu          sync.Mutex
	active      bool
	starting    bool
	epoch       uint64
	stream      MicrophoneStream
	recognition Recognition
	chunks      [][]byte
	size        int
	transcript  string
	startedAt   time.Time
	level       float64
	peak        float64
}

func New(mic MicrophoneSource, opts ...Option) *Unit {
	u := &Unit{
		mic:    mic,
		format: DefaultFormat(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Start opens the microphone and the recognizer. A failure to open the
// microphone leaves no capture state behind. A recognizer that cannot start
// does not fail the capture.
func (u *Unit) Start(ctx context.Context) error {
	if u.mic == nil {
		return core.NewDeviceUnavailableError("no microphone source configured", nil)
	}

	u.mu.Lock()
	if u.active || u.starting {
		u.mu.Unlock()
		u.metrics.RecordCapture(string(core.ErrAlreadyCapturing))
		return core.NewAlreadyCapturingError()
	}
	u.starting = true
	u.epoch++
	epoch := u.epoch
	u.chunks = nil
	u.size = 0
	u.transcript = ""
	u.mu.Unlock()

	stream, err := u.mic.Open(ctx, func(chunk []byte) { u.appendChunk(epoch, chunk) })
	if err != nil {
		u.rollback(epoch)
		mapped := classifyOpenError(err)
		u.metrics.RecordCapture(string(mapped.Type))
		u.logger.Warn("microphone open failed", "error", err)
		return mapped
	}

	var recognition Recognition
	if u.recognizer != nil {
		recognition, err = u.recognizer.Start(func(text string) { u.setTranscript(epoch, text) })
		switch {
		case errors.Is(err, ErrRecognizerUnsupported):
			u.logger.Info("speech recognition unavailable, capturing audio only")
			recognition = nil
		case err != nil:
			u.logger.Warn("speech recognition failed to start, capturing audio only", "error", err)
			recognition = nil
		}
	}

	u.mu.Lock()
	u.starting = false
	u.active = true
	u.stream = stream
	u.recognition = recognition
	u.startedAt = u.now()
	u.mu.Unlock()

	u.metrics.RecordCapture("started")
	u.logger.Debug("capture started")
	return nil
}

// Stop ends the capture and returns the recorded audio with the transcript
// as it stands at this instant. The recognizer and the microphone are
// released before Stop returns; later recognizer results are discarded. It
// returns false when nothing was recording.
func (u *Unit) Stop() (Recording, bool) {
	u.mu.Lock()
	if !u.active {
		u.mu.Unlock()
		return Recording{}, false
	}
	u.active = false
	u.epoch++
	stream, recognition := u.stream, u.recognition
	chunks, size := u.chunks, u.size
	transcript := strings.TrimSpace(u.transcript)
	duration := u.now().Sub(u.startedAt)
	u.stream, u.recognition = nil, nil
	u.chunks, u.size, u.transcript = nil, 0, ""
	u.level, u.peak = 0, 0
	u.mu.Unlock()

	if recognition != nil {
		recognition.Stop()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			u.logger.Warn("microphone close failed", "error", err)
		}
	}

	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	u.metrics.RecordCapture("completed")
	return Recording{
		Audio:      EncodeWAV(pcm, u.format),
		MIMEType:   "audio/wav",
		Transcript: transcript,
		Duration:   duration,
		Chunks:     len(chunks),
	}, true
}

// State returns a snapshot of the capture session.
func (u *Unit) State() RecordingState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return RecordingState{
		IsRecording:       u.active,
		PendingTranscript: u.transcript,
		ChunkCount:        len(u.chunks),
		BufferedBytes:     u.size,
		Level:             u.level,
		Peak:              u.peak,
	}
}

// Close stops any capture in progress and discards it.
func (u *Unit) Close() error {
	u.Stop()
	return nil
}

func (u *Unit) appendChunk(epoch uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if epoch != u.epoch || !(u.active || u.starting) {
		return
	}
	u.chunks = append(u.chunks, append([]byte(nil), chunk...))
	u.size += len(chunk)
	if u.format.BitsPerSample == 16 {
		u.level = Level(chunk)
		u.peak = max(u.peak, Peak(chunk))
	}
}

func (u *Unit) setTranscript(epoch uint64, text string) {
	u.mu.Lock()
	if epoch != u.epoch || !(u.active || u.starting) {
		u.mu.Unlock()
		return
	}
	u.transcript = text
	listener := u.onTranscript
	u.mu.Unlock()

	if listener != nil {
		listener(text)
	}
}

func (u *Unit) rollback(epoch uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if epoch != u.epoch {
		return
	}
	u.starting = false
	u.epoch++
	u.chunks = nil
	u.size = 0
	u.transcript = ""
	u.level, u.peak = 0, 0
}

func classifyOpenError(err error) *core.Error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) && (coreErr.Type == core.ErrPermissionDenied || coreErr.Type == core.ErrDeviceUnavailable) {
		return coreErr
	}
	if errors.Is(err, ErrMicrophonePermission) {
		return core.NewPermissionDeniedError("microphone access was denied", err)
	}
	return core.NewDeviceUnavailableError("microphone is unavailable", err)
}
