package telemetry

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// History persists status snapshots in SQLite for later inspection
// (debugging blink tuning, sleep cycles, detector behavior over an evening).
type History struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the history database and runs migrations.
func OpenHistory(path string) (*History, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("telemetry history opened", "path", path)
	return h, nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *History) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS statuses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	state TEXT NOT NULL,
	bt_connected INTEGER NOT NULL,
	last_vocal_ts REAL NOT NULL,
	speech_confidence REAL NOT NULL,
	mouth_angle INTEGER NOT NULL,
	eyes_angle INTEGER NOT NULL,
	ts REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statuses_ts ON statuses(ts);
`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}

// Record appends one snapshot.
func (h *History) Record(st Status) error {
	_, err := h.db.Exec(
		`INSERT INTO statuses (state, bt_connected, last_vocal_ts, speech_confidence, mouth_angle, eyes_angle, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.State, boolToInt(st.BTConnected), st.LastVocalTS, st.SpeechConfidence,
		st.MouthAngle, st.EyesAngle, st.TS,
	)
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

// Recent returns up to n snapshots, newest first.
func (h *History) Recent(n int) ([]Status, error) {
	rows, err := h.db.Query(
		`SELECT state, bt_connected, last_vocal_ts, speech_confidence, mouth_angle, eyes_angle, ts
		 FROM statuses ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	var out []Status
	for rows.Next() {
		var st Status
		var bt int
		if err := rows.Scan(&st.State, &bt, &st.LastVocalTS, &st.SpeechConfidence,
			&st.MouthAngle, &st.EyesAngle, &st.TS); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		st.BTConnected = bt != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
