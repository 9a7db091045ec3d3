package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lynguyen2516/iot/internal/model"
)

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&SensorReading{}, &DeviceEvent{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// InsertReading persists one normalized telemetry sample, assigning its
// identity and timestamp when unset.
func (r *Repo) InsertReading(ctx context.Context, p *SensorReading) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.TS.IsZero() {
		p.TS = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

// InsertDeviceEvent appends one confirmed transition to the history.
func (r *Repo) InsertDeviceEvent(ctx context.Context, d model.Device, s model.Status, ts time.Time) (*DeviceEvent, error) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	ev := &DeviceEvent{ID: uuid.New(), Device: d, Status: s, TS: ts}
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// LastStatus returns the most recent durable status for the device, OFF
// when no history exists yet.
func (r *Repo) LastStatus(ctx context.Context, d model.Device) (model.Status, error) {
	var ev DeviceEvent
	err := r.db.WithContext(ctx).
		Where("device = ?", d).
		Order("ts DESC").
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.StatusOff, nil
	}
	if err != nil {
		return model.StatusOff, err
	}
	return ev.Status, nil
}

// LastStatuses runs LastStatus for the whole enumeration, used to seed the
// in-memory state at startup and after a reconnect. A lookup failure for a
// single device falls back to OFF rather than failing the seed.
func (r *Repo) LastStatuses(ctx context.Context) map[model.Device]model.Status {
	out := make(map[model.Device]model.Status, len(model.Devices()))
	for _, d := range model.Devices() {
		s, err := r.LastStatus(ctx, d)
		if err != nil {
			s = model.StatusOff
		}
		out[d] = s
	}
	return out
}

// LatestReading returns the newest sample, nil when the table is empty.
func (r *Repo) LatestReading(ctx context.Context) (*SensorReading, error) {
	var p SensorReading
	err := r.db.WithContext(ctx).Order("ts DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecentReadings returns the last n samples in chronological order, the
// shape the dashboard chart expects.
func (r *Repo) RecentReadings(ctx context.Context, n int) ([]SensorReading, error) {
	if n <= 0 {
		n = 20
	}
	var rows []SensorReading
	if err := r.db.WithContext(ctx).Order("ts DESC").Limit(n).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

type Page[T any] struct {
	Data        []T   `json:"data"`
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int   `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
}

type ListReadingsOpts struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
	From      time.Time
	To        time.Time
}

var readingSortColumns = map[string]bool{
	"ts":          true,
	"temperature": true,
	"humidity":    true,
	"light_level": true,
}

// ListReadings is an offset-paged read over persisted samples with
// structured time bounds. Sort columns are whitelisted.
func (r *Repo) ListReadings(ctx context.Context, opts ListReadingsOpts) (Page[SensorReading], error) {
	page, limit := normalizePage(opts.Page, opts.Limit)
	q := r.db.WithContext(ctx).Model(&SensorReading{})
	if !opts.From.IsZero() {
		q = q.Where("ts >= ?", opts.From)
	}
	if !opts.To.IsZero() {
		q = q.Where("ts <= ?", opts.To)
	}
	return runPaged[SensorReading](q, page, limit, safeOrder(opts.SortBy, opts.SortOrder, readingSortColumns, "ts"))
}

type ListEventsOpts struct {
	Page      int
	Limit     int
	Device    model.Device
	Status    model.Status
	From      time.Time
	To        time.Time
	SortBy    string
	SortOrder string
}

var eventSortColumns = map[string]bool{
	"ts":     true,
	"device": true,
	"status": true,
}

// ListDeviceEvents pages over the confirmed-transition history.
func (r *Repo) ListDeviceEvents(ctx context.Context, opts ListEventsOpts) (Page[DeviceEvent], error) {
	page, limit := normalizePage(opts.Page, opts.Limit)
	q := r.db.WithContext(ctx).Model(&DeviceEvent{})
	if opts.Device != "" {
		q = q.Where("device = ?", opts.Device)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if !opts.From.IsZero() {
		q = q.Where("ts >= ?", opts.From)
	}
	if !opts.To.IsZero() {
		q = q.Where("ts <= ?", opts.To)
	}
	return runPaged[DeviceEvent](q, page, limit, safeOrder(opts.SortBy, opts.SortOrder, eventSortColumns, "ts"))
}

func runPaged[T any](q *gorm.DB, page, limit int, order string) (Page[T], error) {
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Page[T]{}, err
	}
	var rows []T
	offset := (page - 1) * limit
	if err := q.Session(&gorm.Session{}).Order(order).Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return Page[T]{}, err
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	if totalPages < 1 {
		totalPages = 1
	}
	return Page[T]{Data: rows, TotalItems: total, TotalPages: totalPages, CurrentPage: page}, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func safeOrder(sortBy, sortOrder string, allowed map[string]bool, def string) string {
	col := strings.ToLower(strings.TrimSpace(sortBy))
	if !allowed[col] {
		col = def
	}
	dir := "DESC"
	if strings.EqualFold(strings.TrimSpace(sortOrder), "asc") {
		dir = "ASC"
	}
	return col + " " + dir
}
