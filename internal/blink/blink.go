// Package blink issues autonomous eye blinks on an exponential schedule.
//
// A Scheduler holds a command handle to the eyes joint and an optional
// read handle to the mouth joint. Blinks are suppressed while the mouth is
// active: the two mouth-level thresholds form a Schmitt trigger, and blinks
// resume only after the mouth has stayed low for a hold period. This keeps
// the bear from blinking mid-sentence without stalling blinks forever when
// mouth motion brushes the boundary.
package blink

import (
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Eyes is the command handle the scheduler blinks through.
type Eyes interface {
	MinAngle() int
	Neutral() int
	SetTarget(angle int, duration time.Duration)
}

// Mouth is the non-owning read handle used for suppression. The scheduler
// never commands the mouth.
type Mouth interface {
	Angle() int
	MinAngle() int
	MaxAngle() int
}

// Config tunes the scheduler. Zero values take the defaults below.
type Config struct {
	MeanInterval     time.Duration // mean gap between blink attempts
	Duration         time.Duration // eyelid close time; reopen takes 2/3 of it
	SuppressMouthOn  float64       // mouth level above which blinking disables
	SuppressMouthOff float64       // mouth level below which the low-hold starts
	SuppressOff      time.Duration // required continuous low time before blinks resume
}

func (c Config) withDefaults() Config {
	if c.MeanInterval <= 0 {
		c.MeanInterval = 6 * time.Second
	}
	if c.Duration <= 0 {
		c.Duration = 160 * time.Millisecond
	}
	if c.SuppressMouthOn == 0 {
		c.SuppressMouthOn = 0.25
	}
	if c.SuppressMouthOff == 0 {
		c.SuppressMouthOff = 0.10
	}
	if c.SuppressOff <= 0 {
		c.SuppressOff = 200 * time.Millisecond
	}
	return c
}

// Scheduler runs the blink loop. Zero value is not usable; use New().
type Scheduler struct {
	cfg   Config
	eyes  Eyes
	mouth Mouth // may be nil: no suppression source, always allowed

	// lastMouthLow is when the mouth level last dropped below the off
	// threshold; zero means unset. Confined to the scheduler goroutine.
	lastMouthLow time.Time

	rng *rand.Rand
	now func() time.Time

	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New returns a stopped Scheduler blinking eyes, suppressed by mouth
// (pass nil for no suppression).
func New(eyes Eyes, mouth Mouth, cfg Config) *Scheduler {
	return &Scheduler{
		cfg:   cfg.withDefaults(),
		eyes:  eyes,
		mouth: mouth,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
	}
}

// Start launches the blink loop. Safe to call repeatedly.
func (s *Scheduler) Start() {
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop()
	slog.Debug("blink scheduler started", "mean_interval", s.cfg.MeanInterval)
}

// Stop halts the loop, waiting up to 500 ms for the worker.
func (s *Scheduler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	select {
	case <-s.done:
	case <-time.After(500 * time.Millisecond):
		slog.Warn("blink worker slow to stop")
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		if !s.sleep(s.nextWait()) {
			return
		}
		if !s.canBlinkNow(s.now()) {
			continue
		}
		if !s.blink() {
			return
		}
	}
}

// nextWait draws the gap until the next blink attempt from
// Exponential(1/mean) via the inverse CDF, guarding against U = 0.
func (s *Scheduler) nextWait() time.Duration {
	mean := math.Max(0.1, s.cfg.MeanInterval.Seconds())
	u := s.rng.Float64()
	for u == 0 {
		u = s.rng.Float64()
	}
	return time.Duration(-math.Log(u) * mean * float64(time.Second))
}

// canBlinkNow runs the suppression gate: blinks are allowed once the mouth
// level has stayed at or below the off threshold for the hold period.
// Rising past the on threshold resets the hold.
func (s *Scheduler) canBlinkNow(now time.Time) bool {
	if s.mouth == nil {
		return true
	}
	level := s.mouthLevel()
	if level <= s.cfg.SuppressMouthOff {
		if s.lastMouthLow.IsZero() {
			s.lastMouthLow = now
		}
	} else if level > s.cfg.SuppressMouthOn {
		s.lastMouthLow = time.Time{}
	}
	if s.lastMouthLow.IsZero() {
		return false
	}
	return now.Sub(s.lastMouthLow) >= s.cfg.SuppressOff
}

// mouthLevel maps the mouth angle to [0, 1] openness.
func (s *Scheduler) mouthLevel() float64 {
	min, max := float64(s.mouth.MinAngle()), float64(s.mouth.MaxAngle())
	if max <= min {
		return 0
	}
	level := (float64(s.mouth.Angle()) - min) / (max - min)
	return math.Max(0, math.Min(1, level))
}

// blink closes the eyes over the configured duration, then reopens to
// neutral over two thirds of it. Returns false if stopped mid-blink.
func (s *Scheduler) blink() bool {
	s.eyes.SetTarget(s.eyes.MinAngle(), s.cfg.Duration)
	if !s.sleep(s.cfg.Duration) {
		return false
	}
	reopen := s.cfg.Duration * 2 / 3
	if reopen < 10*time.Millisecond {
		reopen = 10 * time.Millisecond
	}
	s.eyes.SetTarget(s.eyes.Neutral(), reopen)
	return true
}

// sleep waits for d or until stopped; reports whether the full wait elapsed.
func (s *Scheduler) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopCh:
		return false
	}
}
