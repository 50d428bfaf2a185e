// Package speaker plays audio on the default output device. A Device owns the
// process's single output context; clip sinks and PCM streams opened from it
// mix on that context.
package speaker

import (
	"io"
	"log/slog"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/vango-go/vai-call/pkg/core"
)

const (
	// DefaultSampleRate is used when a Device is created with a rate <= 0.
	DefaultSampleRate = 24000

	channelCount   = 2
	bytesPerSample = 2
)

// player is the part of *oto.Player a Stream needs.
type player interface {
	Play()
	Close() error
}

// Device is the output device. The context is opened on first use and runs
// at a fixed rate; sources at other rates are resampled.
type Device struct {
	sampleRate int
	logger     *slog.Logger

	once   sync.Once
	otoCtx *oto.Context
	err    error
}

func NewDevice(sampleRate int, logger *slog.Logger) *Device {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{sampleRate: sampleRate, logger: logger}
}

// SampleRate is the output rate in Hz.
func (d *Device) SampleRate() int {
	return d.sampleRate
}

func (d *Device) context() (*oto.Context, error) {
	d.once.Do(func() {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   d.sampleRate,
			ChannelCount: channelCount,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			d.err = core.NewDeviceUnavailableError("speaker is unavailable", err)
			return
		}
		<-ready
		d.otoCtx = otoCtx
		d.logger.Debug("speaker opened", "sample_rate", d.sampleRate)
	})
	return d.otoCtx, d.err
}

// newPlayer returns a paused player reading stereo signed 16-bit PCM at the
// device rate from r.
func (d *Device) newPlayer(r io.Reader) (*oto.Player, error) {
	otoCtx, err := d.context()
	if err != nil {
		return nil, err
	}
	return otoCtx.NewPlayer(r), nil
}
