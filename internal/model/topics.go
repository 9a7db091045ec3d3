package model

import "fmt"

// TelemetryTopic carries the combined sensor payload from the ESP32.
const TelemetryTopic = "datasensor/all"

// The firmware exposes each appliance on a numbered led channel. The
// channel-to-device mapping is fixed in the firmware; it is a static table
// here, not inferred from topic suffixes at runtime.
var statusTopics = map[string]Device{
	"esp32/led1/status": DeviceLight,
	"esp32/led2/status": DeviceAC,
	"esp32/led3/status": DeviceFan,
	"esp32/led4/status": DeviceBell,
}

var controlTopics = map[Device]string{
	DeviceLight: "esp32/led1/control",
	DeviceAC:    "esp32/led2/control",
	DeviceFan:   "esp32/led3/control",
}

func init() {
	// Every enumerated device must have a status channel. A device the
	// firmware never reports on would otherwise sit OFF forever.
	seen := map[Device]bool{}
	for _, d := range statusTopics {
		seen[d] = true
	}
	for _, d := range Devices() {
		if !seen[d] {
			panic(fmt.Sprintf("model: device %q has no status topic", d))
		}
	}
}

// DeviceForStatusTopic resolves a status topic to its canonical device.
func DeviceForStatusTopic(topic string) (Device, bool) {
	d, ok := statusTopics[topic]
	return d, ok
}

// StatusTopics returns every per-device status topic.
func StatusTopics() []string {
	out := make([]string, 0, len(statusTopics))
	for t := range statusTopics {
		out = append(out, t)
	}
	return out
}

// ControlTopic returns the topic commands for the device are published on.
func ControlTopic(d Device) (string, bool) {
	t, ok := controlTopics[d]
	return t, ok
}
