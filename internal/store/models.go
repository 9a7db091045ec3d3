package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/lynguyen2516/iot/internal/model"
)

// SensorReading is one normalized telemetry sample. Raw keeps the payload
// exactly as the firmware sent it, before field coercion.
type SensorReading struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Temperature float64        `json:"temperature"`
	Humidity    float64        `json:"humidity"`
	LightLevel  int            `json:"light_level"`
	Raw         datatypes.JSON `json:"-"`
	TS          time.Time      `gorm:"index" json:"timestamp"`
}

// DeviceEvent is one confirmed on/off transition reported by the device.
type DeviceEvent struct {
	ID     uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	Device model.Device `gorm:"index:idx_device_ts,priority:1" json:"device"`
	Status model.Status `json:"status"`
	TS     time.Time    `gorm:"index:idx_device_ts,priority:2" json:"timestamp"`
}
