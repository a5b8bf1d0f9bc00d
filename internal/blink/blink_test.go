package blink

import (
	"math/rand"
	"testing"
	"time"
)

// fakeEyes records SetTarget commands.
type fakeEyes struct {
	commands []int
}

func (f *fakeEyes) MinAngle() int { return 10 }
func (f *fakeEyes) Neutral() int  { return 10 }
func (f *fakeEyes) SetTarget(angle int, duration time.Duration) {
	f.commands = append(f.commands, angle)
}

// fakeMouth reports a fixed angle on a [20, 120] joint.
type fakeMouth struct {
	angle int
}

func (f *fakeMouth) Angle() int    { return f.angle }
func (f *fakeMouth) MinAngle() int { return 20 }
func (f *fakeMouth) MaxAngle() int { return 120 }

func testScheduler(mouth Mouth) (*Scheduler, *fakeEyes) {
	eyes := &fakeEyes{}
	s := New(eyes, mouth, Config{
		MeanInterval: 6 * time.Second,
		Duration:     30 * time.Millisecond,
	})
	s.rng = rand.New(rand.NewSource(1))
	return s, eyes
}

func TestOpenMouthSuppressesBlinks(t *testing.T) {
	mouth := &fakeMouth{angle: 120} // level 1.0
	s, eyes := testScheduler(mouth)

	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		if s.canBlinkNow(now.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("attempt %d: blink allowed with mouth fully open", i)
		}
	}
	if len(eyes.commands) != 0 {
		t.Errorf("eye commands issued during suppression: %v", eyes.commands)
	}
}

func TestBlinkResumesAfterMouthLowHold(t *testing.T) {
	mouth := &fakeMouth{angle: 120}
	s, _ := testScheduler(mouth)

	now := time.Unix(0, 0)
	if s.canBlinkNow(now) {
		t.Fatal("open mouth should suppress")
	}

	// Mouth drops to min; first low sample records the hold start.
	mouth.angle = 20
	if s.canBlinkNow(now) {
		t.Error("hold period must elapse before blinks resume")
	}
	if s.canBlinkNow(now.Add(150 * time.Millisecond)) {
		t.Error("150 ms low is inside the 200 ms hold")
	}
	if !s.canBlinkNow(now.Add(210 * time.Millisecond)) {
		t.Error("blink should be allowed after 210 ms of low mouth")
	}
}

// The Schmitt trigger: rising past suppress_on resets the hold, but levels
// between the two thresholds do not.
func TestSuppressionHysteresisBand(t *testing.T) {
	mouth := &fakeMouth{angle: 20} // level 0
	s, _ := testScheduler(mouth)

	now := time.Unix(0, 0)
	s.canBlinkNow(now) // records hold start

	// Level 0.2 sits between off (0.10) and on (0.25): hold keeps running.
	mouth.angle = 40
	if !s.canBlinkNow(now.Add(250 * time.Millisecond)) {
		t.Error("mid-band level should not reset the hold")
	}

	// Level past the on threshold resets the hold entirely.
	mouth.angle = 120
	if s.canBlinkNow(now.Add(300 * time.Millisecond)) {
		t.Error("level above suppress_on must reset the hold")
	}
	mouth.angle = 20
	if s.canBlinkNow(now.Add(320 * time.Millisecond)) {
		t.Error("hold restarts from zero after a reset")
	}
	if !s.canBlinkNow(now.Add(530 * time.Millisecond)) {
		t.Error("blink should be allowed after a fresh 200 ms hold")
	}
}

func TestNoMouthAlwaysAllows(t *testing.T) {
	s, _ := testScheduler(nil)
	if !s.canBlinkNow(time.Unix(0, 0)) {
		t.Error("scheduler without a mouth handle should always allow blinks")
	}
}

func TestBlinkCommandsCloseThenNeutral(t *testing.T) {
	s, eyes := testScheduler(nil)
	s.stopCh = make(chan struct{})
	if !s.blink() {
		t.Fatal("blink should complete")
	}
	if len(eyes.commands) != 2 || eyes.commands[0] != 10 || eyes.commands[1] != 10 {
		t.Errorf("blink commands: got %v, want close to min then reopen to neutral", eyes.commands)
	}
}

func TestNextWaitDistribution(t *testing.T) {
	s, _ := testScheduler(nil)
	var total time.Duration
	const n = 2000
	for i := 0; i < n; i++ {
		w := s.nextWait()
		if w < 0 {
			t.Fatalf("negative wait %v", w)
		}
		total += w
	}
	mean := total / n
	// Exponential with mean 6 s: the sample mean over 2000 draws lands
	// well within [5 s, 7 s].
	if mean < 5*time.Second || mean > 7*time.Second {
		t.Errorf("sample mean %v not near 6 s", mean)
	}
}

func TestStartStop(t *testing.T) {
	eyes := &fakeEyes{}
	s := New(eyes, nil, Config{MeanInterval: time.Hour})
	s.Start()
	s.Start() // idempotent
	s.Stop()
	s.Stop() // idempotent
}
