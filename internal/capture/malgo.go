package capture

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

// deviceParams is what Open asks a backend for.
type deviceParams struct {
	Source       string
	SampleRate   int
	Channels     int
	BufferFrames int
}

// device is a started capture stream.
type device interface {
	Name() string
	Stop() error
	Uninit()
}

// opener creates and starts a device. onData runs on the audio thread;
// onStop runs whenever the device stops.
type opener func(p deviceParams, onData func([]byte), onStop func()) (device, error)

type malgoDevice struct {
	ctx  *malgo.AllocatedContext
	dev  *malgo.Device
	name string
}

func (d *malgoDevice) Name() string { return d.name }

func (d *malgoDevice) Stop() error {
	return d.dev.Stop()
}

func (d *malgoDevice) Uninit() {
	d.dev.Uninit()
	_ = d.ctx.Uninit()
	d.ctx.Free()
}

func initContext(log logger.Logger) (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(backendFor(runtime.GOOS), malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to initialize audio context: %w", err)).
			Component(componentName).
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}
	return ctx, nil
}

// Devices lists the capture devices of the platform backend.
func Devices() ([]DeviceInfo, error) {
	log := GetLogger()
	ctx, err := initContext(log)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to enumerate capture devices: %w", err)).
			Component(componentName).
			Category(errors.CategoryAudioSource).
			Context("operation", "list_devices").
			Build()
	}
	return toDeviceInfos(infos), nil
}

func openMalgo(log logger.Logger) opener {
	return func(p deviceParams, onData func([]byte), onStop func()) (device, error) {
		ctx, err := initContext(log)
		if err != nil {
			return nil, err
		}
		release := func() {
			_ = ctx.Uninit()
			ctx.Free()
		}

		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			release()
			return nil, errors.New(fmt.Errorf("failed to enumerate capture devices: %w", err)).
				Component(componentName).
				Category(errors.CategoryAudioSource).
				Context("operation", "list_devices").
				Build()
		}
		idx, err := matchDevice(toDeviceInfos(infos), p.Source)
		if err != nil {
			release()
			return nil, err
		}

		cfg := malgo.DefaultDeviceConfig(malgo.Capture)
		cfg.Capture.Format = malgo.FormatS16
		cfg.Capture.Channels = uint32(p.Channels)
		cfg.Capture.DeviceID = infos[idx].ID.Pointer()
		cfg.SampleRate = uint32(p.SampleRate)
		cfg.Alsa.NoMMap = 1
		if p.BufferFrames > 0 {
			cfg.PeriodSizeInFrames = uint32(p.BufferFrames)
		}

		callbacks := malgo.DeviceCallbacks{
			Data: func(_, input []byte, _ uint32) {
				onData(input)
			},
			Stop: onStop,
		}

		dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
		if err != nil {
			release()
			return nil, errors.New(fmt.Errorf("failed to initialize capture device: %w", err)).
				Component(componentName).
				Category(errors.CategoryAudioSource).
				Context("operation", "init_device").
				Context("device", infos[idx].Name()).
				Build()
		}
		if err := dev.Start(); err != nil {
			dev.Uninit()
			release()
			return nil, errors.New(fmt.Errorf("failed to start capture device: %w", err)).
				Component(componentName).
				Category(errors.CategoryAudioSource).
				Context("operation", "start_device").
				Context("device", infos[idx].Name()).
				Build()
		}

		return &malgoDevice{ctx: ctx, dev: dev, name: infos[idx].Name()}, nil
	}
}
