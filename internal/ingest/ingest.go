// Package ingest turns raw broker messages into state transitions,
// durable rows and live broadcasts.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/lynguyen2516/iot/internal/model"
	"github.com/lynguyen2516/iot/internal/monitor"
	"github.com/lynguyen2516/iot/internal/store"
)

// Broadcaster is the live-update sink. Delivery is best effort; ingest
// never blocks on it.
type Broadcaster interface {
	BroadcastReading(r store.SensorReading)
	BroadcastStatus(d model.Device, s model.Status, ts time.Time)
	BroadcastConnected()
}

// MQTTMessage is the slice of a broker message ingest needs.
type MQTTMessage interface {
	Topic() string
	Payload() []byte
}

type Handler struct {
	Monitor *monitor.Monitor
	Repo    *store.Repo
	Cache   *store.StateCache
	Sink    Broadcaster
}

// HandleMessage demultiplexes one inbound message. Unrecognized topics are
// dropped silently; a malformed payload is logged and dropped. Nothing
// here ever panics the subscriber callback.
func (h *Handler) HandleMessage(ctx context.Context, msg MQTTMessage, receivedAt time.Time) {
	topic := msg.Topic()
	if topic == model.TelemetryTopic {
		h.handleTelemetry(ctx, msg.Payload(), receivedAt)
		return
	}
	if device, ok := model.DeviceForStatusTopic(topic); ok {
		h.handleStatus(ctx, device, msg.Payload(), receivedAt)
		return
	}
}

func (h *Handler) handleTelemetry(ctx context.Context, payload []byte, now time.Time) {
	// Any telemetry, even one we fail to parse, proves the board is alive.
	if h.Monitor.MarkTelemetry(now) {
		h.reconnect(ctx)
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		slog.Warn("telemetry payload unparseable", "error", err)
		return
	}

	reading := store.SensorReading{
		Temperature: coerceFloat(raw["temperature"]),
		Humidity:    coerceFloat(raw["humidity"]),
		LightLevel:  coerceLight(raw["light"]),
		Raw:         datatypes.JSON(append([]byte(nil), payload...)),
		TS:          now.UTC(),
	}
	if err := h.Repo.InsertReading(ctx, &reading); err != nil {
		slog.Error("sensor reading insert failed", "error", err)
		return
	}
	if h.Cache != nil {
		if b, err := json.Marshal(reading); err == nil {
			if err := h.Cache.SetLatestReading(ctx, b); err != nil {
				slog.Debug("latest reading cache write failed", "error", err)
			}
		}
	}
	h.Sink.BroadcastReading(reading)
	slog.Debug("sensor reading stored", "id", reading.ID, "temperature", reading.Temperature)
}

func (h *Handler) handleStatus(ctx context.Context, device model.Device, payload []byte, now time.Time) {
	if h.Monitor.MarkControlAck(now) {
		h.reconnect(ctx)
	}

	status, ok := model.ParseStatus(string(payload))
	if !ok {
		slog.Warn("status payload unparseable", "device", device, "payload", string(payload))
		return
	}

	h.Monitor.SetStatus(device, status)
	ev, err := h.Repo.InsertDeviceEvent(ctx, device, status, now.UTC())
	if err != nil {
		slog.Error("device history insert failed", "device", device, "error", err)
		return
	}
	h.Sink.BroadcastStatus(device, status, ev.TS)
	slog.Info("device status confirmed", "device", device, "status", status)
}

// reconnect runs once per offline->online transition: re-seed the state
// map from the last durable statuses before announcing the board online,
// so new clients do not see the zeroed post-disconnect state.
func (h *Handler) reconnect(ctx context.Context) {
	h.Monitor.SeedStatuses(h.Repo.LastStatuses(ctx))
	slog.Info("esp32 reconnected")
	h.Sink.BroadcastConnected()
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return f
	}
	// null, missing or garbage defaults to zero instead of dropping the
	// whole reading.
	return 0
}

func coerceLight(v any) int {
	n := int(coerceFloat(v))
	if n < 0 {
		return 0
	}
	return n
}
