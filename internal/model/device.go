package model

import "strings"

// Status is a device on/off state as reported by the ESP32 itself.
type Status string

const (
	StatusOn  Status = "ON"
	StatusOff Status = "OFF"
)

// ParseStatus understands both the single-byte wire form ("1"/"0") the
// firmware publishes and the symbolic form used by clients.
func ParseStatus(v string) (Status, bool) {
	switch strings.TrimSpace(strings.ToUpper(v)) {
	case "1", "ON":
		return StatusOn, true
	case "0", "OFF":
		return StatusOff, true
	}
	return StatusOff, false
}

// WireByte is the payload published on a control topic.
func (s Status) WireByte() []byte {
	if s == StatusOn {
		return []byte("1")
	}
	return []byte("0")
}

func (s Status) Valid() bool { return s == StatusOn || s == StatusOff }

// Device identifies one of the fixed appliances wired to the ESP32.
type Device string

const (
	DeviceLight Device = "light"
	DeviceAC    Device = "ac"
	DeviceFan   Device = "fan"
	DeviceBell  Device = "bell"
)

// Devices returns the full enumeration in a stable order.
func Devices() []Device {
	return []Device{DeviceLight, DeviceAC, DeviceFan, DeviceBell}
}

func (d Device) Valid() bool {
	switch d {
	case DeviceLight, DeviceAC, DeviceFan, DeviceBell:
		return true
	}
	return false
}

// Controllable reports whether the device has a control channel on the
// firmware. The bell only reports state; it cannot be switched remotely.
func (d Device) Controllable() bool {
	_, ok := controlTopics[d]
	return ok
}
