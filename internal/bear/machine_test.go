package bear

import (
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TheGaf/gafTeddy/internal/audio"
	"github.com/TheGaf/gafTeddy/internal/speech"
	"github.com/TheGaf/gafTeddy/internal/telemetry"
)

type jointCmd struct {
	angle    int
	duration time.Duration
}

// fakeJoint records commands and reports a manually set angle.
type fakeJoint struct {
	mu       sync.Mutex
	min, max int
	angle    int
	cmds     []jointCmd
	events   *[]string
	name     string
}

func (f *fakeJoint) Start() { f.record("start") }
func (f *fakeJoint) Stop()  { f.record("stop") }
func (f *fakeJoint) record(ev string) {
	if f.events != nil {
		*f.events = append(*f.events, f.name+" "+ev)
	}
}
func (f *fakeJoint) SetTarget(angle int, duration time.Duration) {
	f.mu.Lock()
	f.cmds = append(f.cmds, jointCmd{angle, duration})
	f.mu.Unlock()
}
func (f *fakeJoint) Angle() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.angle
}
func (f *fakeJoint) MinAngle() int { return f.min }
func (f *fakeJoint) MaxAngle() int { return f.max }

func (f *fakeJoint) lastCmd() (jointCmd, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cmds) == 0 {
		return jointCmd{}, false
	}
	return f.cmds[len(f.cmds)-1], true
}

func (f *fakeJoint) cmdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmds)
}

// fakeAudio serves a fixed frame.
type fakeAudio struct {
	raw    []byte
	events *[]string
}

func (f *fakeAudio) Start() error {
	if f.events != nil {
		*f.events = append(*f.events, "audio start")
	}
	return nil
}
func (f *fakeAudio) Stop() {
	if f.events != nil {
		*f.events = append(*f.events, "audio stop")
	}
}
func (f *fakeAudio) Levels() audio.Levels { return audio.Levels{Raw: f.raw, TS: time.Now()} }

type fakeBlinker struct{ events *[]string }

func (f *fakeBlinker) Start() {
	if f.events != nil {
		*f.events = append(*f.events, "blinker start")
	}
}
func (f *fakeBlinker) Stop() {
	if f.events != nil {
		*f.events = append(*f.events, "blinker stop")
	}
}

type fakeBT struct{ events *[]string }

func (f *fakeBT) Start() {
	if f.events != nil {
		*f.events = append(*f.events, "bt start")
	}
}
func (f *fakeBT) Stop() {
	if f.events != nil {
		*f.events = append(*f.events, "bt stop")
	}
}
func (f *fakeBT) Connected() bool { return true }

func vocalFrame() []byte {
	const n = 4410
	raw := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		s := 0.5 * math.Sin(2*math.Pi*500*float64(i)/44100)
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(int16(s*32767)))
	}
	return raw
}

func testMachine(src AudioSource) (*StateMachine, *fakeJoint, *fakeJoint) {
	mouth := &fakeJoint{min: 20, max: 120, angle: 20, name: "mouth"}
	eyes := &fakeJoint{min: 10, max: 90, angle: 10, name: "eyes"}
	m := New(Config{}, Deps{
		Audio:    src,
		Detector: speech.New(speech.Config{SampleRate: 44100}),
		Mouth:    mouth,
		Eyes:     eyes,
		Blinker:  &fakeBlinker{},
		BT:       &fakeBT{},
	})
	return m, mouth, eyes
}

func TestVocalFrameOpensMouth(t *testing.T) {
	m, mouth, _ := testMachine(&fakeAudio{raw: vocalFrame()})
	now := time.Unix(1000, 0)

	m.tick(now)

	cmd, ok := mouth.lastCmd()
	if !ok {
		t.Fatal("vocal tick should command the mouth")
	}
	if cmd.angle != 120 || cmd.duration != 50*time.Millisecond {
		t.Errorf("mouth command: got %+v, want open to 120 over 50ms", cmd)
	}
	m.mu.Lock()
	lastVocal := m.lastVocalTS
	m.mu.Unlock()
	if !lastVocal.Equal(now) {
		t.Errorf("last vocal ts: got %v, want %v", lastVocal, now)
	}
}

func TestMouthHoldsOpenWithinMinOpenTime(t *testing.T) {
	m, mouth, _ := testMachine(&fakeAudio{})
	now := time.Unix(1000, 0)
	m.lastVocalTS = now.Add(-100 * time.Millisecond) // recent speech

	m.tick(now)

	// 100 ms < min_open_time (160 ms): no close command yet.
	if n := mouth.cmdCount(); n != 0 {
		t.Errorf("mouth commands inside min-open window: got %d, want 0", n)
	}
}

func TestMouthClosesAfterMinOpenTime(t *testing.T) {
	m, mouth, _ := testMachine(&fakeAudio{})
	now := time.Unix(1000, 0)
	m.lastVocalTS = now.Add(-300 * time.Millisecond)

	m.tick(now)

	cmd, ok := mouth.lastCmd()
	if !ok {
		t.Fatal("silence past min-open should close the mouth")
	}
	if cmd.angle != 20 || cmd.duration != 80*time.Millisecond {
		t.Errorf("mouth close command: got %+v, want close to 20 over 80ms", cmd)
	}
}

func TestSleepEntryRequiresIdleAndClosedEyes(t *testing.T) {
	m, _, eyes := testMachine(&fakeAudio{})
	m.setState(StateRunning)
	now := time.Unix(1000, 0)
	m.lastVocalTS = now.Add(-11 * time.Second)

	// Eyes still far from closed: the close command goes out, but no SLEEP.
	eyes.angle = 40
	m.tick(now)
	cmd, ok := eyes.lastCmd()
	if !ok || cmd.angle != 90 || cmd.duration != 2500*time.Millisecond {
		t.Fatalf("eye close command: got %+v ok=%v, want 90 over 2.5s", cmd, ok)
	}
	if m.State() != StateRunning {
		t.Error("machine slept before the eyes closed")
	}

	// Eyes within the 3 degree tolerance: SLEEP.
	eyes.angle = 88
	m.tick(now.Add(40 * time.Millisecond))
	if m.State() != StateSleep {
		t.Errorf("state: got %s, want SLEEP", m.State())
	}
}

func TestVocalFrameWakesFromSleep(t *testing.T) {
	src := &fakeAudio{}
	m, _, eyes := testMachine(src)
	m.setState(StateSleep)
	now := time.Unix(1000, 0)

	src.raw = vocalFrame()
	m.tick(now)

	if m.State() != StateRunning {
		t.Errorf("state: got %s, want RUNNING after speech", m.State())
	}
	cmd, ok := eyes.lastCmd()
	if !ok || cmd.angle != 10 || cmd.duration != 200*time.Millisecond {
		t.Errorf("eye open command: got %+v ok=%v, want 10 over 200ms", cmd, ok)
	}
}

func TestTelemetryPublishCadence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	mouth := &fakeJoint{min: 20, max: 120, angle: 77, name: "mouth"}
	eyes := &fakeJoint{min: 10, max: 90, angle: 10, name: "eyes"}
	m := New(Config{}, Deps{
		Audio:     &fakeAudio{},
		Detector:  speech.New(speech.Config{SampleRate: 44100}),
		Mouth:     mouth,
		Eyes:      eyes,
		Blinker:   &fakeBlinker{},
		BT:        &fakeBT{},
		Publisher: telemetry.NewPublisher(path, nil),
	})
	m.setState(StateRunning)

	now := time.Unix(1000, 0)
	m.tick(now) // first tick publishes

	st, err := telemetry.Read(path)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if st.MouthAngle != 77 || !st.BTConnected {
		t.Errorf("published status: got %+v", st)
	}

	// Within the interval: no rewrite.
	mouth.angle = 99
	m.tick(now.Add(500 * time.Millisecond))
	st, _ = telemetry.Read(path)
	if st.MouthAngle != 77 {
		t.Error("status rewritten inside the write interval")
	}

	// Past the interval: updated.
	m.tick(now.Add(1100 * time.Millisecond))
	st, _ = telemetry.Read(path)
	if st.MouthAngle != 99 {
		t.Error("status not rewritten after the write interval")
	}
}

func TestRunStartsAndStopsSubsystemsInOrder(t *testing.T) {
	var events []string
	mouth := &fakeJoint{min: 20, max: 120, name: "mouth", events: &events}
	eyes := &fakeJoint{min: 10, max: 90, name: "eyes", events: &events}
	m := New(Config{Tick: time.Hour}, Deps{
		Audio:    &fakeAudio{events: &events},
		Detector: speech.New(speech.Config{SampleRate: 44100}),
		Mouth:    mouth,
		Eyes:     eyes,
		Blinker:  &fakeBlinker{events: &events},
		BT:       &fakeBT{events: &events},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	waitForState(t, m, StateRunning)
	cancel()
	<-done

	want := []string{
		"mouth start", "eyes start", "audio start", "bt start", "blinker start",
		"blinker stop", "bt stop", "audio stop", "eyes stop", "mouth stop",
	}
	if len(events) != len(want) {
		t.Fatalf("events: got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %q, want %q (full: %v)", i, events[i], want[i], events)
		}
	}
}

func TestStopEndsRun(t *testing.T) {
	m, _, _ := testMachine(&fakeAudio{})
	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()
	waitForState(t, m, StateRunning)
	m.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func waitForState(t *testing.T, m *StateMachine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state never reached %s", want)
}
