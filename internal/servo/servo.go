// Package servo drives one animatronic joint through a pwm.Sink.
//
// An Engine owns a worker goroutine that emits pulses at ≈50 Hz and advances
// the joint along one of two motion modes: an eased, time-bounded move
// (cosine ramp between two angles) or velocity-limited tracking toward a
// target when no duration is given. Angles are degrees as integers; the
// commanded angle never leaves [MinAngle, MaxAngle].
package servo

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheGaf/gafTeddy/internal/pwm"
)

// tickPeriod is the worker cadence; pulses repeat at roughly 50 Hz.
const tickPeriod = 20 * time.Millisecond

// stopTimeout bounds how long Stop waits for the worker to exit.
const stopTimeout = 500 * time.Millisecond

// Config describes one joint. Angles are degrees, pulse range in
// milliseconds, speed in degrees per second.
type Config struct {
	Pin             int
	MinAngle        int
	MaxAngle        int
	Neutral         int
	PulseMinMs      float64
	PulseMaxMs      float64
	MaxSpeedDegPerS float64
}

// easedMove is a time-bounded cosine-ramped trajectory. Immutable once
// installed; the worker swaps it out when complete.
type easedMove struct {
	start    int
	target   int
	startTS  time.Time
	duration time.Duration
}

// Engine drives one joint. Zero value is not usable; use New().
type Engine struct {
	cfg  Config
	sink pwm.Sink

	// mu guards target and move, the hot motion state published by
	// SetTarget and consumed by the worker.
	mu     sync.Mutex
	target int
	move   *easedMove

	// pos is the precise position, owned by the worker; angle is its rounded
	// publication for concurrent readers (blinker, telemetry).
	pos   float64
	angle atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}

	now func() time.Time
}

// New returns a stopped Engine at the neutral angle. The config is
// normalized: neutral is clamped into [MinAngle, MaxAngle] and a
// non-positive speed falls back to 180 deg/s.
func New(cfg Config, sink pwm.Sink) *Engine {
	if cfg.MaxAngle < cfg.MinAngle {
		cfg.MinAngle, cfg.MaxAngle = cfg.MaxAngle, cfg.MinAngle
	}
	cfg.Neutral = clamp(cfg.Neutral, cfg.MinAngle, cfg.MaxAngle)
	if cfg.MaxSpeedDegPerS <= 0 {
		cfg.MaxSpeedDegPerS = 180
	}
	e := &Engine{
		cfg:    cfg,
		sink:   sink,
		target: cfg.Neutral,
		pos:    float64(cfg.Neutral),
		now:    time.Now,
	}
	e.angle.Store(int32(cfg.Neutral))
	return e
}

// Start launches the pulse worker. Safe to call repeatedly; a running engine
// is left alone.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	go e.run()
	slog.Debug("servo started", "pin", e.cfg.Pin)
}

// Stop signals the worker, waits up to 500 ms for it to exit, then releases
// the pin with a zero pulse. A worker that misses the deadline is abandoned;
// it will observe the stop flag on its next tick.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stopCh)
	select {
	case <-e.done:
	case <-time.After(stopTimeout):
		slog.Warn("servo worker slow to stop", "pin", e.cfg.Pin)
	}
	if err := e.sink.Emit(e.cfg.Pin, 0); err != nil {
		slog.Debug("servo release", "pin", e.cfg.Pin, "err", err)
	}
	slog.Debug("servo stopped", "pin", e.cfg.Pin)
}

// SetTarget commands the joint toward angle, clamped to the joint's range.
// A positive duration installs an eased move from the current angle over that
// duration; otherwise the joint tracks the target at the velocity limit.
// Callable from any goroutine, worker running or not.
func (e *Engine) SetTarget(angle int, duration time.Duration) {
	clamped := clamp(angle, e.cfg.MinAngle, e.cfg.MaxAngle)
	e.mu.Lock()
	if duration > 0 {
		e.move = &easedMove{
			start:    e.Angle(),
			target:   clamped,
			startTS:  e.now(),
			duration: duration,
		}
	} else {
		e.move = nil
	}
	e.target = clamped
	e.mu.Unlock()
	slog.Debug("servo target", "pin", e.cfg.Pin, "angle", clamped, "duration", duration)
}

// Angle returns the current commanded angle in degrees.
func (e *Engine) Angle() int { return int(e.angle.Load()) }

// MinAngle returns the joint's lower bound in degrees.
func (e *Engine) MinAngle() int { return e.cfg.MinAngle }

// MaxAngle returns the joint's upper bound in degrees.
func (e *Engine) MaxAngle() int { return e.cfg.MaxAngle }

// Neutral returns the joint's rest angle in degrees.
func (e *Engine) Neutral() int { return e.cfg.Neutral }

func (e *Engine) run() {
	defer close(e.done)
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	prev := e.now()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			now := e.now()
			dt := now.Sub(prev).Seconds()
			prev = now
			e.advance(now, dt)
		}
	}
}

// advance performs one motion step. Split from run so tests can drive the
// trajectory with synthetic clocks.
func (e *Engine) advance(now time.Time, dt float64) {
	e.mu.Lock()
	mv := e.move
	target := e.target
	e.mu.Unlock()

	if mv != nil {
		t := 1.0
		if d := mv.duration.Seconds(); d > 0 {
			t = math.Min(1, now.Sub(mv.startTS).Seconds()/d)
		}
		ease := 0.5 - 0.5*math.Cos(math.Pi*t)
		e.setPos(float64(mv.start) + float64(mv.target-mv.start)*ease)
		e.emit()
		if t >= 1 {
			e.setPos(float64(mv.target))
			e.mu.Lock()
			// Only clear if a newer command has not replaced the move.
			if e.move == mv {
				e.move = nil
				e.target = mv.target
			}
			e.mu.Unlock()
		}
		return
	}

	if e.Angle() != target {
		maxStep := e.cfg.MaxSpeedDegPerS * dt
		diff := float64(target) - e.pos
		if math.Abs(diff) <= maxStep {
			e.setPos(float64(target))
		} else {
			e.setPos(e.pos + math.Copysign(maxStep, diff))
		}
		e.emit()
	}
	// Angle at target and no move: nothing to update this tick.
}

// setPos updates the worker-owned position and publishes the rounded angle.
func (e *Engine) setPos(pos float64) {
	min, max := float64(e.cfg.MinAngle), float64(e.cfg.MaxAngle)
	if pos < min {
		pos = min
	} else if pos > max {
		pos = max
	}
	e.pos = pos
	e.angle.Store(int32(math.Round(pos)))
}

// emit sends the pulse for the current angle. Sink faults are swallowed; a
// transient PWM error must not kill the worker.
func (e *Engine) emit() {
	if err := e.sink.Emit(e.cfg.Pin, e.pulseUS(e.Angle())); err != nil {
		slog.Debug("servo emit", "pin", e.cfg.Pin, "err", err)
	}
}

// pulseUS maps an angle to a pulse width in microseconds: linear between
// PulseMinMs at MinAngle and PulseMaxMs at MaxAngle.
func (e *Engine) pulseUS(angle int) int {
	span := math.Max(1, float64(e.cfg.MaxAngle-e.cfg.MinAngle))
	frac := float64(angle-e.cfg.MinAngle) / span
	return int(math.Round((e.cfg.PulseMinMs + frac*(e.cfg.PulseMaxMs-e.cfg.PulseMinMs)) * 1000))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
