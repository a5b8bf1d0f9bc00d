// Package telemetry publishes the bear's status snapshot.
//
// Snapshots go to a JSON file at a throttled cadence (atomically, via temp
// file + rename) and optionally into a SQLite history database. Telemetry is
// advisory: write failures are logged at debug level and dropped, never
// surfaced to the animation path.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Status is one snapshot of the bear's externally visible state.
// Readers must tolerate missing fields.
type Status struct {
	State            string  `json:"state"`
	BTConnected      bool    `json:"bt_connected"`
	LastVocalTS      float64 `json:"last_vocal_ts"`
	SpeechConfidence float64 `json:"speech_confidence"`
	MouthAngle       int     `json:"mouth_angle"`
	EyesAngle        int     `json:"eyes_angle"`
	TS               float64 `json:"ts"`
}

// Publisher serializes Status records to a file path.
type Publisher struct {
	path    string
	history *History // optional
}

// NewPublisher returns a Publisher writing to path. history may be nil.
func NewPublisher(path string, history *History) *Publisher {
	return &Publisher{path: path, history: history}
}

// Publish writes st atomically to the status path and, when configured,
// appends it to the history store.
func (p *Publisher) Publish(st Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".teddy_status_*")
	if err != nil {
		return fmt.Errorf("create status temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close status temp: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish status: %w", err)
	}

	if p.history != nil {
		if err := p.history.Record(st); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
	}
	return nil
}

// Read loads the last published status from path.
func Read(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("parse status %s: %w", path, err)
	}
	return st, nil
}
