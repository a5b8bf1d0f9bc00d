// Package bt keeps the bear's bluetooth speaker connected.
//
// The manager assumes the device is already paired and trusted; it polls
// `bluetoothctl info` and issues `bluetoothctl connect` with exponential
// backoff when the link drops. Connection state feeds telemetry only; the
// animation path never depends on it.
package bt

import (
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// Manager supervises one bluetooth audio device by MAC address.
// Zero value is not usable; use New().
type Manager struct {
	mac string

	connected atomic.Bool

	mu          sync.Mutex
	lastAttempt time.Time
	lastResult  string

	// run executes one bluetoothctl command line and returns its output.
	// Swapped in tests.
	run func(cmd string) (string, error)

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New returns a stopped Manager for mac. An empty mac yields a manager that
// idles and always reports disconnected.
func New(mac string) *Manager {
	return &Manager{
		mac: strings.TrimSpace(mac),
		run: runBluetoothctl,
	}
}

// Start launches the reconnect loop. Safe to call repeatedly.
func (m *Manager) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop()
}

// Stop halts the loop, waiting up to one second for the worker.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	select {
	case <-m.done:
	case <-time.After(time.Second):
		slog.Warn("bt worker slow to stop")
	}
}

// Connected reports whether the device currently shows as connected.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// LastAttempt returns the time and result of the most recent connect attempt.
func (m *Manager) LastAttempt() (time.Time, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAttempt, m.lastResult
}

func (m *Manager) loop() {
	defer close(m.done)
	backoff := initialBackoff
	for {
		if m.mac == "" {
			// Nothing to supervise; idle until stopped.
			if !m.sleep(maxBackoff) {
				return
			}
			continue
		}

		if m.checkConnected() {
			if !m.connected.Swap(true) {
				slog.Info("bluetooth device connected", "mac", m.mac)
			}
			m.setResult("connected")
			backoff = initialBackoff
		} else {
			if m.connected.Swap(false) {
				slog.Warn("bluetooth device disconnected", "mac", m.mac)
			}
			if m.connect() {
				m.connected.Store(true)
				backoff = initialBackoff
			} else {
				backoff = min(backoff*2, maxBackoff)
				slog.Debug("bluetooth connect failed", "mac", m.mac, "backoff", backoff)
			}
		}

		if !m.sleep(backoff) {
			return
		}
	}
}

func (m *Manager) checkConnected() bool {
	out, err := m.run("info " + m.mac)
	if err != nil {
		return false
	}
	return strings.Contains(out, "Connected: yes")
}

func (m *Manager) connect() bool {
	slog.Info("attempting bluetooth connect", "mac", m.mac)
	out, err := m.run("connect " + m.mac)
	m.mu.Lock()
	m.lastAttempt = time.Now()
	m.lastResult = strings.TrimSpace(out)
	m.mu.Unlock()
	if err != nil {
		return false
	}
	return strings.Contains(out, "Connection successful") ||
		strings.Contains(out, "Successful") ||
		strings.Contains(out, "Connected: yes")
}

func (m *Manager) setResult(result string) {
	m.mu.Lock()
	m.lastResult = result
	m.mu.Unlock()
}

// sleep waits for d or until stopped; reports whether the full wait elapsed.
func (m *Manager) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-m.stopCh:
		return false
	}
}

// runBluetoothctl pipes one command line into bluetoothctl and returns the
// combined output.
func runBluetoothctl(cmd string) (string, error) {
	c := exec.Command("bluetoothctl")
	c.Stdin = strings.NewReader(cmd + "\n")
	out, err := c.CombinedOutput()
	return string(out), err
}
