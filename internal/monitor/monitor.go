// Package monitor owns every piece of mutable runtime state for the ESP32:
// the per-device on/off map, the online flag and the last-seen timestamps.
// All mutation funnels through one mutex; MQTT callbacks, the liveness
// ticker and websocket control handlers never touch this state directly.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lynguyen2516/iot/internal/model"
)

const (
	// DefaultTimeout is how long both message classes may stay silent
	// before the ESP32 is declared offline.
	DefaultTimeout = 10 * time.Second
	// DefaultPollInterval must not exceed DefaultTimeout, otherwise
	// detection lag grows past one extra interval.
	DefaultPollInterval = 5 * time.Second
)

type Monitor struct {
	timeout time.Duration

	mu             sync.Mutex
	online         bool
	lastTelemetry  time.Time
	lastControlAck time.Time
	states         map[model.Device]model.Status
}

func New(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	states := make(map[model.Device]model.Status, len(model.Devices()))
	for _, d := range model.Devices() {
		states[d] = model.StatusOff
	}
	return &Monitor{timeout: timeout, states: states}
}

// Status returns the last confirmed state of the device, OFF when the
// device is unknown or has never reported.
func (m *Monitor) Status(d model.Device) model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[d]; ok {
		return s
	}
	return model.StatusOff
}

// SetStatus records a state confirmed by the device itself. Client intent
// never lands here; only ingest calls this after a status message.
func (m *Monitor) SetStatus(d model.Device, s model.Status) {
	if !d.Valid() || !s.Valid() {
		return
	}
	m.mu.Lock()
	m.states[d] = s
	m.mu.Unlock()
}

// SeedStatuses overwrites the map from durable last-known values, used at
// process start and after a reconnect.
func (m *Monitor) SeedStatuses(states map[model.Device]model.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d, s := range states {
		if d.Valid() && s.Valid() {
			m.states[d] = s
		}
	}
}

// ResetAll forces every device to OFF.
func (m *Monitor) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetAllLocked()
}

func (m *Monitor) resetAllLocked() {
	for _, d := range model.Devices() {
		m.states[d] = model.StatusOff
	}
}

// Snapshot returns a copy of the device map for seeding clients.
func (m *Monitor) Snapshot() map[model.Device]model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.Device]model.Status, len(m.states))
	for d, s := range m.states {
		out[d] = s
	}
	return out
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// MarkTelemetry refreshes the telemetry timestamp. The return value is
// true for exactly the message that flipped the board offline->online;
// that caller is responsible for the reconnect sequence.
func (m *Monitor) MarkTelemetry(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTelemetry = now
	return m.markOnlineLocked()
}

// MarkControlAck refreshes the control-ack timestamp, same contract as
// MarkTelemetry.
func (m *Monitor) MarkControlAck(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastControlAck = now
	return m.markOnlineLocked()
}

func (m *Monitor) markOnlineLocked() bool {
	if m.online {
		return false
	}
	m.online = true
	return true
}

// CheckExpired evaluates the disconnect condition. The board goes offline
// only when both message classes are stale; a timestamp that was never set
// counts as infinitely stale, so a board that only ever sends telemetry
// still times out. On transition every device state is reset to OFF.
func (m *Monitor) CheckExpired(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return false
	}
	if m.fresh(m.lastTelemetry, now) || m.fresh(m.lastControlAck, now) {
		return false
	}
	m.online = false
	m.resetAllLocked()
	return true
}

func (m *Monitor) fresh(last, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) <= m.timeout
}

// Run polls CheckExpired on the given interval until ctx is cancelled,
// invoking onDisconnect for each online->offline transition.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, onDisconnect func()) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if m.CheckExpired(now) {
				slog.Info("esp32 disconnected", "timeout", m.timeout)
				if onDisconnect != nil {
					onDisconnect()
				}
			}
		}
	}
}
