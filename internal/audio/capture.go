package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Capture reads mono int16 frames from a portaudio input device and keeps
// the latest Levels record. Zero value is not usable; use NewCapture().
type Capture struct {
	device     string
	sampleRate int
	channels   int
	frameSize  int

	mu     sync.Mutex
	latest Levels
	stream *portaudio.Stream

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewCapture returns a stopped Capture for the named device. device is
// matched as a case-insensitive substring of the portaudio device name; an
// empty or unmatched name falls back to the default input device.
func NewCapture(device string, sampleRate, channels, frameSize int) *Capture {
	if channels <= 0 {
		channels = 1
	}
	if frameSize <= 0 {
		frameSize = 2048
	}
	return &Capture{
		device:     device,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  frameSize,
		latest:     Levels{TS: time.Now()},
	}
}

// Start opens the input stream and launches the capture worker.
// Safe to call repeatedly.
func (c *Capture) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		c.running.Store(false)
		return fmt.Errorf("portaudio init: %w", err)
	}

	dev, err := c.resolveInput()
	if err != nil {
		_ = portaudio.Terminate()
		c.running.Store(false)
		return err
	}

	buf := make([]int16, c.frameSize*c.channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: c.channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: c.frameSize,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		c.running.Store(false)
		return fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		c.running.Store(false)
		return fmt.Errorf("start capture stream: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.captureLoop(buf)
	}()

	slog.Info("audio capture started", "device", dev.Name, "rate", c.sampleRate, "frame", c.frameSize)
	return nil
}

// Stop halts capture. The stream is stopped first so a blocking Read
// returns, the worker is joined, and only then is the stream freed.
func (c *Capture) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	if c.stream != nil {
		_ = c.stream.Stop()
	}
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	c.mu.Unlock()

	_ = portaudio.Terminate()
	slog.Info("audio capture stopped")
}

// Levels returns a copy of the latest capture record.
func (c *Capture) Levels() Levels {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// resolveInput finds the first input device whose name contains c.device,
// falling back to the default input device.
func (c *Capture) resolveInput() (*portaudio.DeviceInfo, error) {
	if c.device != "" {
		devices, err := portaudio.Devices()
		if err == nil {
			for _, d := range devices {
				if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(c.device)) {
					return d, nil
				}
			}
		}
		slog.Warn("audio device not found, using default input", "device", c.device)
	}
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("default input device: %w", err)
	}
	return dev, nil
}

func (c *Capture) captureLoop(buf []int16) {
	raw := make([]byte, 2*len(buf))
	for c.running.Load() {
		c.mu.Lock()
		stream := c.stream
		c.mu.Unlock()
		if stream == nil {
			return
		}
		if err := stream.Read(); err != nil {
			if c.running.Load() {
				slog.Debug("capture read", "err", err)
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}

		// Downmix to mono if the device forced extra channels, then encode
		// LE bytes for the detector.
		mono := buf
		if c.channels > 1 {
			mono = mono[:0]
			for i := 0; i+c.channels <= len(buf); i += c.channels {
				mono = append(mono, buf[i])
			}
		}
		frame := raw[:2*len(mono)]
		for i, s := range mono {
			binary.LittleEndian.PutUint16(frame[2*i:], uint16(s))
		}

		rms, zcr, peak := ComputeLevels(frame)
		c.mu.Lock()
		c.latest = Levels{
			Raw:  append([]byte(nil), frame...),
			RMS:  rms,
			ZCR:  zcr,
			Peak: peak,
			TS:   time.Now(),
		}
		c.mu.Unlock()
	}
}
