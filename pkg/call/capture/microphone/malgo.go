// Package microphone captures from the default input device through
// miniaudio.
package microphone

import (
	"context"
	"errors"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/vango-go/vai-call/pkg/call/capture"
)

// Malgo is a capture.MicrophoneSource for the default input device.
type Malgo struct {
	Format capture.Format
	// PeriodMS is the callback period. Defaults to 20ms.
	PeriodMS int
}

func (m *Malgo) Open(ctx context.Context, onChunk func([]byte)) (capture.MicrophoneStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format := m.Format
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = capture.DefaultFormat()
	}
	period := m.PeriodMS
	if period <= 0 {
		period = 20
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	audioCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, mapMalgoError(err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(period)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			onChunk(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return nil, mapMalgoError(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return nil, mapMalgoError(err)
	}
	return &malgoStream{ctx: audioCtx, device: device}, nil
}

type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	once   sync.Once
}

func (s *malgoStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.device.Stop()
		s.device.Uninit()
		if uninitErr := s.ctx.Uninit(); err == nil {
			err = uninitErr
		}
		s.ctx.Free()
	})
	return err
}

func mapMalgoError(err error) error {
	switch {
	case errors.Is(err, malgo.ErrAccessDenied):
		return errors.Join(capture.ErrMicrophonePermission, err)
	case errors.Is(err, malgo.ErrNoDevice), errors.Is(err, malgo.ErrNoBackend), errors.Is(err, malgo.ErrDoesNotExist):
		return errors.Join(capture.ErrNoMicrophone, err)
	default:
		return err
	}
}
