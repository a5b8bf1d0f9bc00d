// Package config manages the gafTeddy configuration tree.
// Settings are stored as a single JSON file; Load decodes over a fully
// populated default tree so missing keys keep their defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Audio configures the capture source.
type Audio struct {
	SampleRate int    `json:"sample_rate"`
	Device     string `json:"device"`
	Channels   int    `json:"channels"`
	FrameSize  int    `json:"frame_size"`
}

// Joint configures one servo joint. Angles are degrees.
type Joint struct {
	Pin      int `json:"pin"`
	MinAngle int `json:"min_angle"`
	MaxAngle int `json:"max_angle"`
	Neutral  int `json:"neutral"`
}

// Servos configures both joints plus the shared pulse range.
type Servos struct {
	Mouth             Joint    `json:"mouth"`
	Eyes              Joint    `json:"eyes"`
	PulseMinMs        float64  `json:"pulse_min_ms"`
	PulseMaxMs        float64  `json:"pulse_max_ms"`
	MaxSpeedDegPerS   MaxSpeed `json:"max_speed_deg_per_s"`
	EyeCloseDurationS float64  `json:"eye_close_duration_s"`
}

// MaxSpeed holds per-joint velocity limits in degrees per second.
type MaxSpeed struct {
	Mouth float64 `json:"mouth"`
	Eyes  float64 `json:"eyes"`
}

// Weights are the vocalness feature weights.
type Weights struct {
	RMS      float64 `json:"rms"`
	Centroid float64 `json:"centroid"`
	ZCR      float64 `json:"zcr"`
}

// Speech configures the vocal detector and the mouth/idle timing.
type Speech struct {
	GoertzelFreqs    []float64 `json:"goertzel_freqs"`
	VocalnessWeights Weights   `json:"vocalness_weights"`
	RMSThreshold     float64   `json:"rms_threshold"`
	ZCRThreshold     float64   `json:"zcr_threshold"`
	// VocalnessThresholdOff is parsed and carried but reserved: the clearing
	// path is governed by OffHoldMs alone.
	VocalnessThresholdOn  float64 `json:"vocalness_threshold_on"`
	VocalnessThresholdOff float64 `json:"vocalness_threshold_off"`
	OffHoldMs             int     `json:"off_hold_ms"`
	MinOpenTimeMs         int     `json:"min_open_time_ms"`
	IdleTimeoutS          float64 `json:"idle_timeout_s"`
}

// Blink configures the blink scheduler.
type Blink struct {
	MeanIntervalS    float64 `json:"mean_interval_s"`
	DurationMs       int     `json:"duration_ms"`
	SuppressMouthOn  float64 `json:"suppress_mouth_on"`
	SuppressMouthOff float64 `json:"suppress_mouth_off"`
	SuppressOffMs    int     `json:"suppress_off_ms"`
}

// MainLoop configures the state machine cadence.
type MainLoop struct {
	TickS float64 `json:"tick_s"`
}

// Telemetry configures the status publisher. HistoryPath is optional; when
// set, snapshots are also appended to a SQLite history database.
type Telemetry struct {
	StatusPath     string  `json:"status_path"`
	WriteIntervalS float64 `json:"write_interval_s"`
	HistoryPath    string  `json:"history_path"`
}

// Logging configures log level, optional log file and throttling.
type Logging struct {
	Level     string  `json:"level"`
	File      string  `json:"file"`
	ThrottleS float64 `json:"throttle_s"`
}

// HTTP configures the local control server and its TTS devices.
type HTTP struct {
	Addr              string `json:"addr"`
	TTSUSBDevice      string `json:"tts_usb_device"`
	TTSLoopbackDevice string `json:"tts_loopback_device"`
	TTSEspeakRate     int    `json:"tts_espeak_rate"`
}

// PWM selects the pulse output backend.
type PWM struct {
	Chip     string `json:"chip"`
	Simulate bool   `json:"simulate"`
}

// Config is the full configuration tree.
type Config struct {
	Audio       Audio     `json:"audio"`
	Servos      Servos    `json:"servos"`
	Speech      Speech    `json:"speech"`
	Blink       Blink     `json:"blink"`
	MainLoop    MainLoop  `json:"main_loop"`
	Telemetry   Telemetry `json:"telemetry"`
	Logging     Logging   `json:"logging"`
	HTTP        HTTP      `json:"http"`
	PWM         PWM       `json:"pwm"`
	BTDeviceMAC string    `json:"bt_device_mac"`
}

// Default returns a Config populated with the stock teddy tuning.
func Default() Config {
	return Config{
		Audio: Audio{
			SampleRate: 44100,
			Device:     "hw:Loopback,1,0",
			Channels:   1,
			FrameSize:  2048,
		},
		Servos: Servos{
			Mouth:      Joint{Pin: 18, MinAngle: 20, MaxAngle: 120, Neutral: 20},
			Eyes:       Joint{Pin: 23, MinAngle: 10, MaxAngle: 90, Neutral: 10},
			PulseMinMs: 0.5,
			PulseMaxMs: 2.5,
			MaxSpeedDegPerS: MaxSpeed{
				Mouth: 180,
				Eyes:  90,
			},
			EyeCloseDurationS: 2.5,
		},
		Speech: Speech{
			GoertzelFreqs:         []float64{300, 500, 1000},
			VocalnessWeights:      Weights{RMS: 0.6, Centroid: 0.3, ZCR: 0.1},
			RMSThreshold:          0.02,
			ZCRThreshold:          0.05,
			VocalnessThresholdOn:  0.45,
			VocalnessThresholdOff: 0.30,
			OffHoldMs:             200,
			MinOpenTimeMs:         160,
			IdleTimeoutS:          10,
		},
		Blink: Blink{
			MeanIntervalS:    6.0,
			DurationMs:       160,
			SuppressMouthOn:  0.25,
			SuppressMouthOff: 0.10,
			SuppressOffMs:    200,
		},
		MainLoop:  MainLoop{TickS: 0.04},
		Telemetry: Telemetry{StatusPath: "/tmp/teddy_status.json", WriteIntervalS: 1.0},
		Logging:   Logging{Level: "info", ThrottleS: 5.0},
		HTTP: HTTP{
			Addr:              ":5001",
			TTSUSBDevice:      "usbout",
			TTSLoopbackDevice: "plughw:Loopback,0,0",
			TTSEspeakRate:     140,
		},
		PWM: PWM{Chip: "gpiochip0"},
	}
}

// Load reads the config file at path. Missing file returns defaults; a file
// that exists but fails to parse is an error (silently running a bear with
// half a config is worse than not starting).
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
