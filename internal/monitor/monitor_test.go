package monitor

import (
	"testing"
	"time"

	"github.com/lynguyen2516/iot/internal/model"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestStartsOfflineAllOff(t *testing.T) {
	m := New(10 * time.Second)
	if m.Online() {
		t.Fatal("new monitor should be offline")
	}
	for _, d := range model.Devices() {
		if got := m.Status(d); got != model.StatusOff {
			t.Fatalf("device %s: got %s, want OFF", d, got)
		}
	}
}

func TestStatusUnknownDeviceDefaultsOff(t *testing.T) {
	m := New(10 * time.Second)
	if got := m.Status(model.Device("toaster")); got != model.StatusOff {
		t.Fatalf("unknown device: got %s, want OFF", got)
	}
}

func TestMarkTelemetryFlipsOnlineOnce(t *testing.T) {
	m := New(10 * time.Second)
	if !m.MarkTelemetry(t0) {
		t.Fatal("first telemetry should report the offline->online transition")
	}
	if m.MarkTelemetry(t0.Add(time.Second)) {
		t.Fatal("second telemetry must not report a transition")
	}
	if !m.Online() {
		t.Fatal("monitor should be online")
	}
}

func TestTelemetryOnlyTrafficStillTimesOut(t *testing.T) {
	// A board that never sends a control ack must still be declared
	// offline: the unset ack timestamp counts as stale, not as fresh.
	m := New(10 * time.Second)
	m.MarkTelemetry(t0)
	m.SetStatus(model.DeviceLight, model.StatusOn)

	if m.CheckExpired(t0.Add(5 * time.Second)) {
		t.Fatal("telemetry still fresh, must not expire")
	}
	if !m.CheckExpired(t0.Add(11 * time.Second)) {
		t.Fatal("expected offline transition after timeout")
	}
	if m.Online() {
		t.Fatal("monitor should be offline")
	}
	if got := m.Status(model.DeviceLight); got != model.StatusOff {
		t.Fatalf("disconnect must reset states, light = %s", got)
	}
}

func TestFreshControlAckKeepsOnline(t *testing.T) {
	m := New(10 * time.Second)
	m.MarkTelemetry(t0)
	m.MarkControlAck(t0.Add(8 * time.Second))

	// Telemetry is stale by now but the ack is not; both classes must be
	// stale simultaneously for the board to go offline.
	if m.CheckExpired(t0.Add(15 * time.Second)) {
		t.Fatal("fresh control ack must keep the board online")
	}
	if !m.CheckExpired(t0.Add(30 * time.Second)) {
		t.Fatal("expected offline once both classes are stale")
	}
}

func TestCheckExpiredWhileOfflineIsNoop(t *testing.T) {
	m := New(10 * time.Second)
	if m.CheckExpired(t0) {
		t.Fatal("offline monitor must not transition again")
	}
	m.MarkTelemetry(t0)
	if !m.CheckExpired(t0.Add(time.Minute)) {
		t.Fatal("expected transition")
	}
	if m.CheckExpired(t0.Add(2 * time.Minute)) {
		t.Fatal("second check must not transition again")
	}
}

func TestResetAllTurnsEverythingOff(t *testing.T) {
	m := New(10 * time.Second)
	for _, d := range model.Devices() {
		m.SetStatus(d, model.StatusOn)
	}
	m.ResetAll()
	for _, d := range model.Devices() {
		if got := m.Status(d); got != model.StatusOff {
			t.Fatalf("device %s: got %s after ResetAll", d, got)
		}
	}
}

func TestSeedStatusesRestoresLastKnown(t *testing.T) {
	m := New(10 * time.Second)
	m.SeedStatuses(map[model.Device]model.Status{
		model.DeviceLight: model.StatusOn,
		model.DeviceFan:   model.StatusOff,
	})
	snap := m.Snapshot()
	if snap[model.DeviceLight] != model.StatusOn {
		t.Fatalf("light = %s, want ON", snap[model.DeviceLight])
	}
	if snap[model.DeviceFan] != model.StatusOff {
		t.Fatalf("fan = %s, want OFF", snap[model.DeviceFan])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New(10 * time.Second)
	snap := m.Snapshot()
	snap[model.DeviceLight] = model.StatusOn
	if m.Status(model.DeviceLight) != model.StatusOff {
		t.Fatal("mutating a snapshot must not affect the monitor")
	}
}

func TestSetStatusIgnoresInvalid(t *testing.T) {
	m := New(10 * time.Second)
	m.SetStatus(model.Device("toaster"), model.StatusOn)
	m.SetStatus(model.DeviceLight, model.Status("MAYBE"))
	if got := m.Status(model.DeviceLight); got != model.StatusOff {
		t.Fatalf("invalid status applied: %s", got)
	}
	if _, ok := m.Snapshot()["toaster"]; ok {
		t.Fatal("invalid device leaked into the state map")
	}
}
