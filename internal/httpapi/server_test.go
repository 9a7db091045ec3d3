package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lynguyen2516/iot/internal/model"
	"github.com/lynguyen2516/iot/internal/monitor"
	"github.com/lynguyen2516/iot/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Repo, *monitor.Monitor) {
	t.Helper()
	dsn := "file:httpapi_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	mon := monitor.New(10 * time.Second)
	// nil redis client: cache reads fall through to the repo.
	return NewServer(repo, store.NewStateCache(nil), mon, nil), repo, mon
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestDashboardDataEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/api/dashboard_data")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		LatestSensor json.RawMessage               `json:"latestSensor"`
		ChartData    []store.SensorReading         `json:"chartData"`
		Devices      map[model.Device]model.Status `json:"devices"`
		ESP32Online  bool                          `json:"esp32Online"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ESP32Online {
		t.Fatal("fresh server should report offline")
	}
	if len(resp.Devices) != len(model.Devices()) {
		t.Fatalf("devices = %d, want %d", len(resp.Devices), len(model.Devices()))
	}
	for d, s := range resp.Devices {
		if s != model.StatusOff {
			t.Fatalf("device %s = %s, want OFF", d, s)
		}
	}
}

func TestDashboardDataWithReadings(t *testing.T) {
	srv, repo, mon := newTestServer(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		p := &store.SensorReading{Temperature: float64(20 + i), TS: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.InsertReading(ctx, p); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	mon.MarkTelemetry(time.Now())
	mon.SetStatus(model.DeviceLight, model.StatusOn)

	rr := get(t, srv.Handler(), "/api/dashboard_data")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		LatestSensor store.SensorReading           `json:"latestSensor"`
		ChartData    []store.SensorReading         `json:"chartData"`
		Devices      map[model.Device]model.Status `json:"devices"`
		ESP32Online  bool                          `json:"esp32Online"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.LatestSensor.Temperature != 22 {
		t.Fatalf("latest temperature = %v, want 22", resp.LatestSensor.Temperature)
	}
	if len(resp.ChartData) != 3 {
		t.Fatalf("chart rows = %d, want 3", len(resp.ChartData))
	}
	if !resp.ESP32Online {
		t.Fatal("expected online")
	}
	if resp.Devices[model.DeviceLight] != model.StatusOn {
		t.Fatalf("light = %s, want ON", resp.Devices[model.DeviceLight])
	}
}

func TestSensorDataPaged(t *testing.T) {
	srv, repo, _ := newTestServer(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		if err := repo.InsertReading(ctx, &store.SensorReading{TS: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rr := get(t, srv.Handler(), "/api/sensor_data?page=2&limit=10")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var page store.Page[store.SensorReading]
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.TotalItems != 15 || page.TotalPages != 2 || page.CurrentPage != 2 {
		t.Fatalf("bad meta: %+v", page)
	}
	if len(page.Data) != 5 {
		t.Fatalf("rows = %d, want 5", len(page.Data))
	}
}

func TestSensorDataRejectsBadTime(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/api/sensor_data?from=yesterday")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestDeviceHistoryFiltered(t *testing.T) {
	srv, repo, _ := newTestServer(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := repo.InsertDeviceEvent(ctx, model.DeviceFan, model.StatusOn, base); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.InsertDeviceEvent(ctx, model.DeviceLight, model.StatusOn, base.Add(time.Minute)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rr := get(t, srv.Handler(), "/api/device_history?device=fan")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var page store.Page[store.DeviceEvent]
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.TotalItems != 1 {
		t.Fatalf("rows = %d, want 1", page.TotalItems)
	}
	if page.Data[0].Device != model.DeviceFan {
		t.Fatalf("device = %s, want fan", page.Data[0].Device)
	}
}

func TestDeviceHistoryRejectsUnknownDevice(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/api/device_history?device=toaster")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestDeviceHistoryRejectsUnknownStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rr := get(t, srv.Handler(), "/api/device_history?status=MAYBE")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
