package httpapi

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// TTS synthesizes speech with espeak and plays it on two ALSA devices: the
// USB speaker (audible) and the loopback, so the bear's own capture path
// hears the speech and animates the mouth.
type TTS struct {
	USBDevice      string
	LoopbackDevice string
	EspeakRate     int

	// runCmd runs a command to completion; startCmd fires one off without
	// waiting. Both are swapped in tests so nothing forks.
	runCmd   func(name string, args ...string) error
	startCmd func(name string, args ...string) error
}

// NewTTS returns a TTS for the given output devices. rate is the default
// espeak words-per-minute, used when a request does not specify one.
func NewTTS(usbDevice, loopbackDevice string, rate int) *TTS {
	if rate <= 0 {
		rate = 140
	}
	return &TTS{
		USBDevice:      usbDevice,
		LoopbackDevice: loopbackDevice,
		EspeakRate:     rate,
		runCmd: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		startCmd: func(name string, args ...string) error {
			return exec.Command(name, args...).Start()
		},
	}
}

// Speak synthesizes text to a temp WAV and plays it on both devices.
// Playback is asynchronous; playback failures are logged and swallowed
// (the synthesized file is still cleaned up). rate <= 0 uses the default.
func (t *TTS) Speak(text string, rate int) error {
	if rate <= 0 {
		rate = t.EspeakRate
	}
	wav, err := t.synthesize(text, rate)
	if err != nil {
		return err
	}

	if err := t.startCmd("aplay", "-D", t.USBDevice, wav); err != nil {
		slog.Warn("aplay to speaker failed", "device", t.USBDevice, "err", err)
	}
	if err := t.startCmd("aplay", "-D", t.LoopbackDevice, wav); err != nil {
		slog.Warn("aplay to loopback failed", "device", t.LoopbackDevice, "err", err)
	}

	// Remove the WAV once playback has had time to open it.
	go func() {
		time.Sleep(2 * time.Second)
		_ = os.Remove(wav)
	}()
	return nil
}

// synthesize runs espeak and returns the path of the rendered WAV.
func (t *TTS) synthesize(text string, rate int) (string, error) {
	f, err := os.CreateTemp("", "teddy_tts_*.wav")
	if err != nil {
		return "", fmt.Errorf("create tts temp: %w", err)
	}
	path := f.Name()
	_ = f.Close()

	slog.Info("synthesizing speech", "rate", rate, "chars", len(text))
	if err := t.runCmd("espeak", "-s", strconv.Itoa(rate), "-w", path, text); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("espeak: %w", err)
	}
	return path, nil
}
