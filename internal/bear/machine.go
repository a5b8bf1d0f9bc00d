// Package bear composes the animation pipeline: at a fixed cadence it reads
// the latest audio frame, runs the vocal detector, and commands the mouth
// and eye servos; idle time closes the eyes into SLEEP and speech wakes the
// bear back up. It also publishes the telemetry snapshot at a throttled
// interval.
package bear

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheGaf/gafTeddy/internal/audio"
	"github.com/TheGaf/gafTeddy/internal/speech"
	"github.com/TheGaf/gafTeddy/internal/telemetry"
)

// State is the bear's high-level behavior label.
type State string

// The three lifecycle states. INIT only exists between construction and Run.
const (
	StateInit    State = "INIT"
	StateRunning State = "RUNNING"
	StateSleep   State = "SLEEP"
)

// sleepTolerance is how close (degrees) the eyes must get to fully closed
// before SLEEP is entered; the eased schedule asymptotes near the endpoint.
const sleepTolerance = 3

// Joint is the servo surface the machine drives. *servo.Engine satisfies it.
type Joint interface {
	Start()
	Stop()
	SetTarget(angle int, duration time.Duration)
	Angle() int
	MinAngle() int
	MaxAngle() int
}

// AudioSource delivers capture frames. *audio.Capture satisfies it.
type AudioSource interface {
	Start() error
	Stop()
	Levels() audio.Levels
}

// Blinker is the autonomous blink worker. *blink.Scheduler satisfies it.
type Blinker interface {
	Start()
	Stop()
}

// BT reports speaker connectivity for telemetry. *bt.Manager satisfies it.
type BT interface {
	Start()
	Stop()
	Connected() bool
}

// Config holds the machine's timing knobs.
type Config struct {
	Tick             time.Duration // loop cadence
	MinOpenTime      time.Duration // mouth stays open at least this long after speech
	IdleTimeout      time.Duration // silence before the eyes start closing
	EyeCloseDuration time.Duration // eased eye-close time on sleep entry
	WriteInterval    time.Duration // telemetry cadence
	LogThrottle      time.Duration // cap on "vocal detected" log lines
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 40 * time.Millisecond
	}
	if c.MinOpenTime <= 0 {
		c.MinOpenTime = 160 * time.Millisecond
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Second
	}
	if c.EyeCloseDuration <= 0 {
		c.EyeCloseDuration = 2500 * time.Millisecond
	}
	if c.WriteInterval <= 0 {
		c.WriteInterval = time.Second
	}
	if c.LogThrottle <= 0 {
		c.LogThrottle = 5 * time.Second
	}
	return c
}

// Deps are the subsystems the machine owns. All are required except
// Publisher and BT, which may be nil.
type Deps struct {
	Audio     AudioSource
	Detector  *speech.Detector
	Mouth     Joint
	Eyes      Joint
	Blinker   Blinker
	BT        BT
	Publisher *telemetry.Publisher
}

// StateMachine ticks the bear. Zero value is not usable; use New().
type StateMachine struct {
	cfg Config
	d   Deps

	mu            sync.Mutex
	state         State
	lastVocalTS   time.Time
	lastVocalness float64

	// tick-loop confined
	lastPublish  time.Time
	lastVocalLog time.Time

	running atomic.Bool
	stopCh  chan struct{}

	now func() time.Time
}

// New returns a StateMachine in INIT. Nothing starts until Run.
func New(cfg Config, d Deps) *StateMachine {
	return &StateMachine{
		cfg:   cfg.withDefaults(),
		d:     d,
		state: StateInit,
		now:   time.Now,
	}
}

// Run starts the subsystems and ticks until ctx is done or Stop is called,
// then stops the subsystems in reverse order. It blocks.
func (m *StateMachine) Run(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.stopCh = make(chan struct{})

	m.startSubsystems()
	m.setState(StateRunning)
	slog.Info("teddy state machine started", "tick", m.cfg.Tick)

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-m.stopCh:
			m.shutdown()
			return
		case <-ticker.C:
			m.tick(m.now())
		}
	}
}

// Stop ends Run from another goroutine. Idempotent.
func (m *StateMachine) Stop() {
	if m.running.Load() {
		select {
		case <-m.stopCh:
		default:
			close(m.stopCh)
		}
	}
}

func (m *StateMachine) shutdown() {
	m.stopSubsystems()
	m.running.Store(false)
	slog.Info("teddy stopped")
}

// startSubsystems brings everything up. Servos first: the blinker reads the
// mouth angle, so both joints must be live before it starts.
func (m *StateMachine) startSubsystems() {
	m.d.Mouth.Start()
	m.d.Eyes.Start()
	if err := m.d.Audio.Start(); err != nil {
		slog.Warn("audio capture unavailable, running deaf", "err", err)
	}
	if m.d.BT != nil {
		m.d.BT.Start()
	}
	m.d.Blinker.Start()
}

// stopSubsystems is the reverse of startSubsystems.
func (m *StateMachine) stopSubsystems() {
	m.d.Blinker.Stop()
	if m.d.BT != nil {
		m.d.BT.Stop()
	}
	m.d.Audio.Stop()
	m.d.Eyes.Stop()
	m.d.Mouth.Stop()
}

// tick runs one iteration of the behavior loop.
func (m *StateMachine) tick(now time.Time) {
	levels := m.d.Audio.Levels()
	res := m.d.Detector.IsVocal(levels.Raw)

	m.mu.Lock()
	m.lastVocalness = res.Vocalness
	if res.Vocal {
		m.lastVocalTS = now
	}
	lastVocal := m.lastVocalTS
	m.mu.Unlock()

	if res.Vocal {
		// Quick open so the mouth follows plosives.
		m.d.Mouth.SetTarget(m.d.Mouth.MaxAngle(), 50*time.Millisecond)
		if now.Sub(m.lastVocalLog) >= m.cfg.LogThrottle {
			m.lastVocalLog = now
			slog.Info("vocal detected",
				"vocalness", res.Vocalness, "rms", res.RMS,
				"zcr", res.ZCR, "centroid", res.Centroid)
		}
	} else if now.Sub(lastVocal) > m.cfg.MinOpenTime {
		m.d.Mouth.SetTarget(m.d.Mouth.MinAngle(), 80*time.Millisecond)
	}

	if now.Sub(lastVocal) > m.cfg.IdleTimeout {
		m.d.Eyes.SetTarget(m.d.Eyes.MaxAngle(), m.cfg.EyeCloseDuration)
		if abs(m.d.Eyes.Angle()-m.d.Eyes.MaxAngle()) <= sleepTolerance {
			if m.setState(StateSleep) {
				slog.Info("entering sleep")
			}
		}
	} else {
		m.d.Eyes.SetTarget(m.d.Eyes.MinAngle(), 200*time.Millisecond)
		if m.setState(StateRunning) {
			slog.Info("waking from sleep")
		}
	}

	if now.Sub(m.lastPublish) >= m.cfg.WriteInterval {
		m.lastPublish = now
		if m.d.Publisher != nil {
			if err := m.d.Publisher.Publish(m.Status()); err != nil {
				slog.Debug("status publish failed", "err", err)
			}
		}
	}
}

// setState transitions to s and reports whether the state actually changed.
func (m *StateMachine) setState(s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == s {
		return false
	}
	m.state = s
	return true
}

// State returns the current high-level state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status assembles the telemetry snapshot. Servo angles are read
// independently; a slightly torn snapshot is acceptable.
func (m *StateMachine) Status() telemetry.Status {
	m.mu.Lock()
	state := m.state
	lastVocal := m.lastVocalTS
	confidence := m.lastVocalness
	m.mu.Unlock()

	st := telemetry.Status{
		State:            string(state),
		SpeechConfidence: confidence,
		MouthAngle:       m.d.Mouth.Angle(),
		EyesAngle:        m.d.Eyes.Angle(),
		TS:               unixSeconds(m.now()),
	}
	if !lastVocal.IsZero() {
		st.LastVocalTS = unixSeconds(lastVocal)
	}
	if m.d.BT != nil {
		st.BTConnected = m.d.BT.Connected()
	}
	return st
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
