package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/reconboard/internal/errors"
)

// Entity names used in malformed-response errors and metrics labels.
const (
	EntityScan       = "scan"
	EntityScanList   = "scan list"
	EntityScanDetail = "scan detail"
	EntityResultPage = "result page"
	EntitySchedule   = "schedule"
	EntitySchedules  = "schedule list"
	EntityStats      = "stats"
	EntityHealth     = "health"
)

var validate = validator.New()

// The wire types mirror the entities with pointer fields so that a missing
// required key can be told apart from a zero value.

type scanWire struct {
	ID           *int64     `json:"id" validate:"required"`
	Domain       *string    `json:"domain" validate:"required"`
	Status       *string    `json:"status" validate:"required,oneof=pending running completed failed"`
	CreatedAt    *Timestamp `json:"created_at" validate:"required"`
	CompletedAt  *Timestamp `json:"completed_at"`
	IsScheduled  *bool      `json:"is_scheduled"`
	ScheduleCron *string    `json:"schedule_cron"`
}

func (w *scanWire) toModel() Scan {
	scan := Scan{
		ID:           *w.ID,
		Domain:       *w.Domain,
		Status:       ScanStatus(*w.Status),
		CreatedAt:    *w.CreatedAt,
		CompletedAt:  w.CompletedAt,
		ScheduleCron: w.ScheduleCron,
	}
	if w.IsScheduled != nil {
		scan.IsScheduled = *w.IsScheduled
	}
	return scan
}

type resultWire struct {
	ID            *int64     `json:"id" validate:"required"`
	ScanID        *int64     `json:"scan_id" validate:"required"`
	Subdomain     *string    `json:"subdomain" validate:"required"`
	IPAddress     *string    `json:"ip_address"`
	IsAlive       *bool      `json:"is_alive"`
	StatusCode    *int       `json:"status_code" validate:"omitempty,gte=100,lte=599"`
	ContentLength *int       `json:"content_length" validate:"omitempty,gte=0"`
	Title         *string    `json:"title"`
	Ports         IntList    `json:"ports"`
	Technologies  StringList `json:"technologies"`
	URLs          StringList `json:"urls"`
	CreatedAt     *Timestamp `json:"created_at"`
}

func (w *resultWire) toModel() Result {
	result := Result{
		ID:            *w.ID,
		ScanID:        *w.ScanID,
		Subdomain:     *w.Subdomain,
		IPAddress:     w.IPAddress,
		StatusCode:    w.StatusCode,
		ContentLength: w.ContentLength,
		Title:         w.Title,
		Ports:         w.Ports,
		Technologies:  w.Technologies,
		URLs:          w.URLs,
		CreatedAt:     w.CreatedAt,
	}
	if w.IsAlive != nil {
		result.IsAlive = *w.IsAlive
	}
	if result.Ports == nil {
		result.Ports = IntList{}
	}
	if result.Technologies == nil {
		result.Technologies = StringList{}
	}
	return result
}

type scheduleWire struct {
	ID             *int64     `json:"id" validate:"required"`
	Domain         *string    `json:"domain" validate:"required"`
	CronExpression *string    `json:"cron_expression" validate:"required"`
	IsActive       *bool      `json:"is_active" validate:"required"`
	LastRun        *Timestamp `json:"last_run"`
	NextRun        *Timestamp `json:"next_run"`
	CreatedAt      *Timestamp `json:"created_at"`
}

func (w *scheduleWire) toModel() Schedule {
	return Schedule{
		ID:             *w.ID,
		Domain:         *w.Domain,
		CronExpression: *w.CronExpression,
		IsActive:       *w.IsActive,
		LastRun:        w.LastRun,
		NextRun:        w.NextRun,
		CreatedAt:      w.CreatedAt,
	}
}

// DecodeScan decodes a single scan, as returned by POST /scans/.
func DecodeScan(data []byte) (*Scan, error) {
	var wire scanWire
	if err := decodeObject(EntityScan, data, &wire); err != nil {
		return nil, err
	}
	scan := wire.toModel()
	return &scan, nil
}

// DecodeScanList decodes the {scans: [...]} envelope of GET /scans/. A null
// list is an empty collection; a missing key is malformed.
func DecodeScanList(data []byte) ([]Scan, error) {
	var envelope struct {
		Scans json.RawMessage `json:"scans" validate:"required"`
	}
	if err := decodeObject(EntityScanList, data, &envelope); err != nil {
		return nil, err
	}

	var wires []scanWire
	if err := json.Unmarshal(envelope.Scans, &wires); err != nil {
		return nil, errors.ErrMalformed(EntityScanList, err)
	}

	scans := make([]Scan, 0, len(wires))
	for i := range wires {
		wire := &wires[i]
		if err := validateElement(EntityScanList, i, wire); err != nil {
			return nil, err
		}
		scans = append(scans, wire.toModel())
	}
	return scans, nil
}

// DecodeScanDetail decodes GET /scans/{id}.
func DecodeScanDetail(data []byte) (*ScanDetail, error) {
	var envelope struct {
		Scan       *scanWire        `json:"scan" validate:"required"`
		Subdomains []resultWire     `json:"subdomains"`
		Stats      *ScanDetailStats `json:"stats"`
	}
	if err := decodeObject(EntityScanDetail, data, &envelope); err != nil {
		return nil, err
	}

	detail := &ScanDetail{
		Scan:       envelope.Scan.toModel(),
		Subdomains: make([]Result, 0, len(envelope.Subdomains)),
	}
	for i := range envelope.Subdomains {
		wire := &envelope.Subdomains[i]
		if err := validateElement(EntityScanDetail, i, wire); err != nil {
			return nil, err
		}
		detail.Subdomains = append(detail.Subdomains, wire.toModel())
	}
	if envelope.Stats != nil {
		detail.Stats = *envelope.Stats
	}
	return detail, nil
}

// DecodeResultPage decodes the {results, total} envelope of GET /results/.
func DecodeResultPage(data []byte) (*ResultPage, error) {
	var envelope struct {
		Results *[]resultWire `json:"results" validate:"required"`
		Total   *int          `json:"total" validate:"required,gte=0"`
	}
	if err := decodeObject(EntityResultPage, data, &envelope); err != nil {
		return nil, err
	}

	page := &ResultPage{
		Results: make([]Result, 0, len(*envelope.Results)),
		Total:   *envelope.Total,
	}
	for i := range *envelope.Results {
		wire := &(*envelope.Results)[i]
		if err := validateElement(EntityResultPage, i, wire); err != nil {
			return nil, err
		}
		page.Results = append(page.Results, wire.toModel())
	}
	return page, nil
}

// DecodeSchedule decodes a single schedule.
func DecodeSchedule(data []byte) (*Schedule, error) {
	var wire scheduleWire
	if err := decodeObject(EntitySchedule, data, &wire); err != nil {
		return nil, err
	}
	schedule := wire.toModel()
	return &schedule, nil
}

// DecodeScheduleList decodes the bare array of GET /scans/scheduled/list.
func DecodeScheduleList(data []byte) ([]Schedule, error) {
	if firstByte(data) != '[' {
		return nil, errors.ErrMalformed(EntitySchedules, fmt.Errorf("expected a JSON array"))
	}
	var wires []scheduleWire
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, errors.ErrMalformed(EntitySchedules, err)
	}

	schedules := make([]Schedule, 0, len(wires))
	for i := range wires {
		if err := validateElement(EntitySchedules, i, &wires[i]); err != nil {
			return nil, err
		}
		schedules = append(schedules, wires[i].toModel())
	}
	return schedules, nil
}

// DecodeStats decodes GET /results/stats. Absent counters read as zero; a
// counter of the wrong type or a malformed pair rejects the whole snapshot.
func DecodeStats(data []byte) (*Stats, error) {
	var stats Stats
	if err := decodeObject(EntityStats, data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DecodeHealth decodes GET /health.
func DecodeHealth(data []byte) (*Health, error) {
	var wire struct {
		Status    *string   `json:"status" validate:"required"`
		Timestamp Timestamp `json:"timestamp"`
	}
	if err := decodeObject(EntityHealth, data, &wire); err != nil {
		return nil, err
	}
	return &Health{Status: *wire.Status, Timestamp: wire.Timestamp}, nil
}

// decodeObject unmarshals a JSON object into dst and runs the struct
// validation tags.
func decodeObject(entity string, data []byte, dst any) error {
	if firstByte(data) != '{' {
		return errors.ErrMalformed(entity, fmt.Errorf("expected a JSON object"))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.ErrMalformed(entity, err)
	}
	if err := validate.Struct(dst); err != nil {
		return errors.ErrMalformed(entity, fmt.Errorf("schema validation failed: %w", err))
	}
	return nil
}

func validateElement(entity string, index int, element any) error {
	if err := validate.Struct(element); err != nil {
		return errors.ErrMalformed(entity, fmt.Errorf("element %d: %w", index, err))
	}
	return nil
}

func firstByte(data []byte) byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
