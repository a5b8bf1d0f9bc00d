package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/TheGaf/gafTeddy/internal/audio"
	"github.com/TheGaf/gafTeddy/internal/bear"
	"github.com/TheGaf/gafTeddy/internal/blink"
	"github.com/TheGaf/gafTeddy/internal/bt"
	"github.com/TheGaf/gafTeddy/internal/config"
	"github.com/TheGaf/gafTeddy/internal/httpapi"
	"github.com/TheGaf/gafTeddy/internal/pwm"
	"github.com/TheGaf/gafTeddy/internal/servo"
	"github.com/TheGaf/gafTeddy/internal/speech"
	"github.com/TheGaf/gafTeddy/internal/telemetry"
)

// App wires the configuration into the running bear: PWM sink, servo
// engines, capture, detector, blinker, bluetooth, state machine and the HTTP
// control server.
type App struct {
	cfg     config.Config
	machine *bear.StateMachine
	server  *httpapi.Server
	history *telemetry.History
	gpio    *pwm.GPIOSink // nil when simulating
}

// NewApp builds the full subsystem graph from cfg. Nothing starts running
// until Run.
func NewApp(cfg config.Config) (*App, error) {
	a := &App{cfg: cfg}

	var sink pwm.Sink
	if cfg.PWM.Simulate {
		sink = pwm.NewSimulator()
		log.Printf("[app] PWM simulated, no hardware will move")
	} else {
		a.gpio = pwm.NewGPIOSink(cfg.PWM.Chip)
		sink = a.gpio
	}

	mouth := servo.New(servoConfig(cfg.Servos.Mouth, cfg.Servos, cfg.Servos.MaxSpeedDegPerS.Mouth), sink)
	eyes := servo.New(servoConfig(cfg.Servos.Eyes, cfg.Servos, cfg.Servos.MaxSpeedDegPerS.Eyes), sink)

	detector := speech.New(speech.Config{
		SampleRate:     cfg.Audio.SampleRate,
		GoertzelFreqs:  cfg.Speech.GoertzelFreqs,
		WeightRMS:      cfg.Speech.VocalnessWeights.RMS,
		WeightCentroid: cfg.Speech.VocalnessWeights.Centroid,
		WeightZCR:      cfg.Speech.VocalnessWeights.ZCR,
		RMSThreshold:   cfg.Speech.RMSThreshold,
		ZCRThreshold:   cfg.Speech.ZCRThreshold,
		OnThreshold:    cfg.Speech.VocalnessThresholdOn,
		OffThreshold:   cfg.Speech.VocalnessThresholdOff,
		OffHold:        time.Duration(cfg.Speech.OffHoldMs) * time.Millisecond,
	})

	capture := audio.NewCapture(cfg.Audio.Device, cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.FrameSize)

	blinker := blink.New(eyes, mouth, blink.Config{
		MeanInterval:     secs(cfg.Blink.MeanIntervalS),
		Duration:         time.Duration(cfg.Blink.DurationMs) * time.Millisecond,
		SuppressMouthOn:  cfg.Blink.SuppressMouthOn,
		SuppressMouthOff: cfg.Blink.SuppressMouthOff,
		SuppressOff:      time.Duration(cfg.Blink.SuppressOffMs) * time.Millisecond,
	})

	if cfg.Telemetry.HistoryPath != "" {
		history, err := telemetry.OpenHistory(cfg.Telemetry.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open telemetry history: %w", err)
		}
		a.history = history
	}
	publisher := telemetry.NewPublisher(cfg.Telemetry.StatusPath, a.history)

	a.machine = bear.New(bear.Config{
		Tick:             secs(cfg.MainLoop.TickS),
		MinOpenTime:      time.Duration(cfg.Speech.MinOpenTimeMs) * time.Millisecond,
		IdleTimeout:      secs(cfg.Speech.IdleTimeoutS),
		EyeCloseDuration: secs(cfg.Servos.EyeCloseDurationS),
		WriteInterval:    secs(cfg.Telemetry.WriteIntervalS),
		LogThrottle:      secs(cfg.Logging.ThrottleS),
	}, bear.Deps{
		Audio:     capture,
		Detector:  detector,
		Mouth:     mouth,
		Eyes:      eyes,
		Blinker:   blinker,
		BT:        bt.New(cfg.BTDeviceMAC),
		Publisher: publisher,
	})

	tts := httpapi.NewTTS(cfg.HTTP.TTSUSBDevice, cfg.HTTP.TTSLoopbackDevice, cfg.HTTP.TTSEspeakRate)
	a.server = httpapi.New(a.machine, tts, a.history)

	return a, nil
}

// Run starts the state machine and the HTTP server and blocks until
// SIGINT/SIGTERM, then shuts everything down in order.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	machineDone := make(chan struct{})
	go func() {
		a.machine.Run(ctx)
		close(machineDone)
	}()

	var serverErr error
	if a.cfg.HTTP.Addr != "" {
		serverErr = a.server.Run(ctx, a.cfg.HTTP.Addr)
	} else {
		<-ctx.Done()
	}

	a.machine.Stop()
	<-machineDone

	if a.gpio != nil {
		_ = a.gpio.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	return serverErr
}

// servoConfig flattens the config tree into one joint's servo.Config.
func servoConfig(j config.Joint, s config.Servos, speed float64) servo.Config {
	return servo.Config{
		Pin:             j.Pin,
		MinAngle:        j.MinAngle,
		MaxAngle:        j.MaxAngle,
		Neutral:         j.Neutral,
		PulseMinMs:      s.PulseMinMs,
		PulseMaxMs:      s.PulseMaxMs,
		MaxSpeedDegPerS: speed,
	}
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// setupLogging installs the process-wide slog handler per the logging
// config: level, optional log file (mirrored to stderr).
func setupLogging(cfg config.Logging) error {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	log.SetOutput(w)
	return nil
}
