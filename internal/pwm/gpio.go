package pwm

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// servo frame period: pulses repeat at 50 Hz.
const framePeriod = 20 * time.Millisecond

// GPIOSink drives servo pulses on GPIO lines through the Linux character
// device. Each pin gets its own worker goroutine replaying the most recently
// commanded pulse width every 20 ms frame; Emit only publishes the new width,
// so it returns in nanoseconds regardless of hardware state.
//
// Software PWM from userspace has scheduler jitter on the order of tens of
// microseconds. Hobby servos tolerate that; pick hardware PWM pins and a
// kernel driver if yours do not.
type GPIOSink struct {
	chip string

	mu     sync.Mutex
	lines  map[int]*gpioLine
	closed bool
}

type gpioLine struct {
	line    *gpiocdev.Line
	pulseUS atomic.Int32
	stop    chan struct{}
	done    chan struct{}
}

// NewGPIOSink returns a sink driving lines on the named chip
// (e.g. "gpiochip0"). Lines are requested lazily on first Emit per pin.
func NewGPIOSink(chip string) *GPIOSink {
	return &GPIOSink{chip: chip, lines: make(map[int]*gpioLine)}
}

// Emit publishes pulseUS for pin. The first Emit for a pin requests the line
// as an output and starts its pulse worker.
func (g *GPIOSink) Emit(pin, pulseUS int) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fmt.Errorf("gpio sink closed")
	}
	gl, ok := g.lines[pin]
	if !ok {
		line, err := gpiocdev.RequestLine(g.chip, pin, gpiocdev.AsOutput(0))
		if err != nil {
			g.mu.Unlock()
			return fmt.Errorf("request %s line %d: %w", g.chip, pin, err)
		}
		gl = &gpioLine{
			line: line,
			stop: make(chan struct{}),
			done: make(chan struct{}),
		}
		g.lines[pin] = gl
		go gl.run()
		slog.Debug("gpio line requested", "chip", g.chip, "pin", pin)
	}
	g.mu.Unlock()

	gl.pulseUS.Store(int32(pulseUS))
	return nil
}

// Close stops all pulse workers and releases the lines. The sink is unusable
// afterwards.
func (g *GPIOSink) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	lines := g.lines
	g.lines = nil
	g.mu.Unlock()

	for pin, gl := range lines {
		close(gl.stop)
		<-gl.done
		_ = gl.line.SetValue(0)
		if err := gl.line.Close(); err != nil {
			slog.Debug("gpio line close", "pin", pin, "err", err)
		}
	}
	return nil
}

// run replays the current pulse width once per frame until stopped.
// A zero width parks the line low and skips the frame entirely.
func (gl *gpioLine) run() {
	defer close(gl.done)
	ticker := time.NewTicker(framePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gl.stop:
			return
		case <-ticker.C:
			us := int(gl.pulseUS.Load())
			if us <= 0 {
				_ = gl.line.SetValue(0)
				continue
			}
			if err := gl.line.SetValue(1); err != nil {
				// Transient fault: skip this frame, the servo coasts.
				continue
			}
			time.Sleep(time.Duration(us) * time.Microsecond)
			_ = gl.line.SetValue(0)
		}
	}
}
