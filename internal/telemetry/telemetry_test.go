package telemetry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPublishAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	p := NewPublisher(path, nil)

	st := Status{
		State:            "RUNNING",
		BTConnected:      true,
		LastVocalTS:      1234.5,
		SpeechConfidence: 0.87,
		MouthAngle:       120,
		EyesAngle:        10,
		TS:               1240.0,
	}
	if err := p.Publish(st); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != st {
		t.Errorf("round trip: got %+v, want %+v", got, st)
	}
}

func TestPublishOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	p := NewPublisher(path, nil)

	for i := 0; i < 5; i++ {
		if err := p.Publish(Status{State: "RUNNING", MouthAngle: i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.MouthAngle != 4 {
		t.Errorf("last write wins: got %d, want 4", got.MouthAngle)
	}

	// No stray temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory entries after publishing: got %d, want 1", len(entries))
	}
}

func TestPublishToBadPathErrors(t *testing.T) {
	p := NewPublisher(filepath.Join(t.TempDir(), "missing", "status.json"), nil)
	if err := p.Publish(Status{State: "RUNNING"}); err == nil {
		t.Error("publishing into a missing directory should error")
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("reading a missing status file should error")
	}
}

func TestReadToleratesPartialFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	if err := os.WriteFile(path, []byte(`{"state":"SLEEP"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.State != "SLEEP" || got.MouthAngle != 0 {
		t.Errorf("partial status: got %+v", got)
	}
}
