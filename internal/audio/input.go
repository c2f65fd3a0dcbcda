package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// FrameFunc receives mono float32 samples from the audio callback thread.
// It must not block.
type FrameFunc func(samples []float32)

// Input is a microphone that can be opened and closed repeatedly.
type Input interface {
	// Open starts delivering frames to fn and reports the effective sample rate.
	Open(fn FrameFunc) (sampleRate float64, err error)
	// Close stops the device. No frames are delivered after it returns.
	Close() error
}

// MalgoInput captures from the default microphone through miniaudio.
type MalgoInput struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	channels   uint32

	mu     sync.Mutex
	device *malgo.Device
}

var _ Input = (*MalgoInput)(nil)

// NewMalgoInput creates the audio context. A sampleRate of 0 captures at the
// device's native rate. Call Release when done.
func NewMalgoInput(sampleRate, channels uint32) (*MalgoInput, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	if channels == 0 {
		channels = 1
	}
	return &MalgoInput{ctx: ctx, sampleRate: sampleRate, channels: channels}, nil
}

// Open initializes and starts a capture device.
func (in *MalgoInput) Open(fn FrameFunc) (float64, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.device != nil {
		return 0, fmt.Errorf("capture device already open")
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = in.channels
	deviceCfg.SampleRate = in.sampleRate

	channels := int(in.channels)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, frameCount uint32) {
			samples := bytesToFloat32(pSample, frameCount*uint32(channels))
			fn(downmix(samples, channels))
		},
	}

	device, err := malgo.InitDevice(in.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return 0, fmt.Errorf("initializing capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return 0, fmt.Errorf("starting capture device: %w", err)
	}

	in.device = device
	return float64(device.SampleRate()), nil
}

// Close stops and releases the current capture device, if any.
func (in *MalgoInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.device != nil {
		in.device.Uninit()
		in.device = nil
	}
	return nil
}

// Release closes any open device and frees the audio context.
func (in *MalgoInput) Release() error {
	_ = in.Close()

	if in.ctx != nil {
		if err := in.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		in.ctx.Free()
		in.ctx = nil
	}
	return nil
}

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}
