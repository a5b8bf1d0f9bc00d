// Package pwm provides the pulse-width output used by the servo engines.
//
// A Sink accepts (pin, pulse width in microseconds) pairs at the servo frame
// rate. A pulse width of zero means "release": the pin is parked low and the
// servo stops holding position. Emit must be cheap and must never block a
// servo worker for longer than one frame.
package pwm

import (
	"log/slog"
	"sync"
)

// Sink accepts servo pulse commands. Implementations must be safe for
// concurrent use by multiple servo workers.
type Sink interface {
	// Emit commands a pulse width on the given pin. pulseUS == 0 releases
	// the pin.
	Emit(pin, pulseUS int) error
}

// Simulator is a Sink that records the last pulse per pin instead of driving
// hardware. Useful for development without servos and for tests.
type Simulator struct {
	mu     sync.Mutex
	pulses map[int]int
	emits  int
}

// NewSimulator returns an empty Simulator.
func NewSimulator() *Simulator {
	return &Simulator{pulses: make(map[int]int)}
}

// Emit records the pulse and logs it at debug level.
func (s *Simulator) Emit(pin, pulseUS int) error {
	s.mu.Lock()
	s.pulses[pin] = pulseUS
	s.emits++
	s.mu.Unlock()
	slog.Debug("pwm sim", "pin", pin, "pulse_us", pulseUS)
	return nil
}

// Pulse returns the last pulse width commanded on pin (0 if never commanded).
func (s *Simulator) Pulse(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulses[pin]
}

// Emits returns the total number of Emit calls seen.
func (s *Simulator) Emits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emits
}
