package pwm

import "testing"

func TestSimulatorRecordsLastPulse(t *testing.T) {
	s := NewSimulator()
	if err := s.Emit(18, 1500); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := s.Emit(18, 2000); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := s.Emit(23, 500); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if got := s.Pulse(18); got != 2000 {
		t.Errorf("pin 18 pulse: got %d, want 2000", got)
	}
	if got := s.Pulse(23); got != 500 {
		t.Errorf("pin 23 pulse: got %d, want 500", got)
	}
	if got := s.Emits(); got != 3 {
		t.Errorf("emits: got %d, want 3", got)
	}
}

func TestSimulatorUnknownPinIsZero(t *testing.T) {
	s := NewSimulator()
	if got := s.Pulse(4); got != 0 {
		t.Errorf("unknown pin pulse: got %d, want 0", got)
	}
}

func TestSimulatorRelease(t *testing.T) {
	s := NewSimulator()
	_ = s.Emit(18, 1500)
	_ = s.Emit(18, 0)
	if got := s.Pulse(18); got != 0 {
		t.Errorf("released pin pulse: got %d, want 0", got)
	}
}
