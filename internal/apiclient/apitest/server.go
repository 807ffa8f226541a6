// Package apitest provides an in-memory recon API served over httptest for
// client and dashboard tests.
package apitest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/reconboard/internal/models"
)

// Route names identify endpoints for failure injection, hooks and request
// counting.
const (
	RouteListScans      = "list_scans"
	RouteGetScan        = "get_scan"
	RouteCreateScan     = "create_scan"
	RouteDeleteScan     = "delete_scan"
	RouteStats          = "get_stats"
	RouteListResults    = "list_results"
	RouteExportResults  = "export_results"
	RouteListSchedules  = "list_schedules"
	RouteCreateSchedule = "create_schedule"
	RouteToggleSchedule = "toggle_schedule"
	RouteDeleteSchedule = "delete_schedule"
	RouteHealth         = "health"
)

// RecordedRequest is one request the server received.
type RecordedRequest struct {
	Route  string
	Method string
	Path   string
	Query  string
	Body   string
}

type cannedResponse struct {
	status int
	body   string
}

// Server is a fake recon API. It is safe for concurrent use.
type Server struct {
	*httptest.Server

	mu             sync.Mutex
	scans          []models.Scan
	results        []models.Result
	schedules      []models.Schedule
	nextScanID     int64
	nextResultID   int64
	nextScheduleID int64
	requests       []RecordedRequest
	canned         map[string]cannedResponse
	hooks          map[string]func(*http.Request)
}

// New starts a fake API server. Callers must Close it.
func New() *Server {
	s := &Server{
		nextScanID:     1,
		nextResultID:   1,
		nextScheduleID: 1,
		canned:         make(map[string]cannedResponse),
		hooks:          make(map[string]func(*http.Request)),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.route(RouteHealth, s.healthHandler)).Methods("GET")
	router.HandleFunc("/scans/", s.route(RouteListScans, s.listScansHandler)).Methods("GET")
	router.HandleFunc("/scans/", s.route(RouteCreateScan, s.createScanHandler)).Methods("POST")
	router.HandleFunc("/scans/scheduled/list", s.route(RouteListSchedules, s.listSchedulesHandler)).Methods("GET")
	router.HandleFunc("/scans/scheduled", s.route(RouteCreateSchedule, s.createScheduleHandler)).Methods("POST")
	router.HandleFunc("/scans/scheduled/{id:[0-9]+}/toggle",
		s.route(RouteToggleSchedule, s.toggleScheduleHandler)).Methods("PATCH")
	router.HandleFunc("/scans/scheduled/{id:[0-9]+}",
		s.route(RouteDeleteSchedule, s.deleteScheduleHandler)).Methods("DELETE")
	router.HandleFunc("/scans/{id:[0-9]+}", s.route(RouteGetScan, s.getScanHandler)).Methods("GET")
	router.HandleFunc("/scans/{id:[0-9]+}", s.route(RouteDeleteScan, s.deleteScanHandler)).Methods("DELETE")
	router.HandleFunc("/results/stats", s.route(RouteStats, s.statsHandler)).Methods("GET")
	router.HandleFunc("/results/", s.route(RouteListResults, s.listResultsHandler)).Methods("GET")
	router.HandleFunc("/results/export/{id:[0-9]+}",
		s.route(RouteExportResults, s.exportHandler)).Methods("GET")

	s.Server = httptest.NewServer(router)
	return s
}

// route records the request, runs any hook and serves a canned response when
// one is registered for name.
func (s *Server) route(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
		}

		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Route:  name,
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
		})
		hook := s.hooks[name]
		canned, hasCanned := s.canned[name]
		s.mu.Unlock()

		if hook != nil {
			hook(r)
		}
		if hasCanned {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(canned.status)
			_, _ = w.Write([]byte(canned.body))
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next(w, r)
	}
}

// SetResponse makes route answer with status and a raw body until cleared.
func (s *Server) SetResponse(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned[route] = cannedResponse{status: status, body: body}
}

// ClearResponse restores normal handling of route.
func (s *Server) ClearResponse(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.canned, route)
}

// SetHook runs fn before route is served. Hooks may block to hold a
// response in flight.
func (s *Server) SetHook(route string, fn func(*http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.hooks, route)
		return
	}
	s.hooks[route] = fn
}

// Requests returns a copy of every recorded request.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Count returns how many requests route received.
func (s *Server) Count(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Route == route {
			n++
		}
	}
	return n
}

// AddScan stores a scan and returns it with its assigned id.
func (s *Server) AddScan(domain string, status models.ScanStatus) models.Scan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addScanLocked(domain, status)
}

func (s *Server) addScanLocked(domain string, status models.ScanStatus) models.Scan {
	scan := models.Scan{
		ID:        s.nextScanID,
		Domain:    domain,
		Status:    status,
		CreatedAt: models.NewTimestamp(time.Now().Add(time.Duration(s.nextScanID) * time.Millisecond)),
	}
	if status.IsTerminal() {
		completed := models.NewTimestamp(time.Now())
		scan.CompletedAt = &completed
	}
	s.nextScanID++
	s.scans = append([]models.Scan{scan}, s.scans...)
	return scan
}

// SetScanStatus changes a stored scan's status, as the scan engine would.
func (s *Server) SetScanStatus(id int64, status models.ScanStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.scans {
		if s.scans[i].ID == id {
			s.scans[i].Status = status
		}
	}
}

// AddResults stores n results for scanID. Every aliveEvery-th result is
// alive; aliveEvery <= 0 makes them all alive.
func (s *Server) AddResults(scanID int64, n, aliveEvery int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		alive := aliveEvery <= 0 || i%aliveEvery == 0
		result := models.Result{
			ID:           s.nextResultID,
			ScanID:       scanID,
			Subdomain:    fmt.Sprintf("host%d.scan%d.example.com", i, scanID),
			IsAlive:      alive,
			Ports:        models.IntList{},
			Technologies: models.StringList{},
		}
		if alive {
			ip := fmt.Sprintf("10.0.%d.%d", scanID%256, i%256)
			code := 200
			title := fmt.Sprintf("Host %d", i)
			result.IPAddress = &ip
			result.StatusCode = &code
			result.Title = &title
			result.Ports = models.IntList{80, 443}
			result.Technologies = models.StringList{"nginx"}
		}
		s.nextResultID++
		s.results = append(s.results, result)
	}
}

// AddResult stores a fully specified result; its id is assigned.
func (s *Server) AddResult(r models.Result) models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextResultID
	s.nextResultID++
	s.results = append(s.results, r)
	return r
}

// AddSchedule stores a schedule and returns it with its assigned id.
func (s *Server) AddSchedule(domain, cron string, active bool) models.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addScheduleLocked(domain, cron, active)
}

func (s *Server) addScheduleLocked(domain, cron string, active bool) models.Schedule {
	created := models.NewTimestamp(time.Now())
	schedule := models.Schedule{
		ID:             s.nextScheduleID,
		Domain:         domain,
		CronExpression: cron,
		IsActive:       active,
		CreatedAt:      &created,
	}
	s.nextScheduleID++
	s.schedules = append(s.schedules, schedule)
	return schedule
}

// Scans returns the stored scans, newest first.
func (s *Server) Scans() []models.Scan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Scan(nil), s.scans...)
}

// Handlers

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000000"),
	})
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	scans := append([]models.Scan{}, s.scans...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"scans": scans, "total": len(scans)})
}

func (s *Server) createScanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	scan := s.addScanLocked(strings.ToLower(strings.TrimSpace(req.Domain)), models.ScanStatusPending)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, scan)
}

func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, scan := range s.scans {
		if scan.ID != id {
			continue
		}
		detail := models.ScanDetail{Scan: scan, Subdomains: []models.Result{}}
		for _, res := range s.results {
			if res.ScanID != id {
				continue
			}
			detail.Subdomains = append(detail.Subdomains, res)
			detail.Stats.TotalSubdomains++
			if res.IsAlive {
				detail.Stats.AliveHosts++
			}
			if len(res.Ports) > 0 {
				detail.Stats.WithPorts++
			}
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}
	writeDetail(w, http.StatusNotFound, "Scan not found")
}

func (s *Server) deleteScanHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, scan := range s.scans {
		if scan.ID != id {
			continue
		}
		s.scans = append(s.scans[:i:i], s.scans[i+1:]...)
		kept := s.results[:0:0]
		for _, res := range s.results {
			if res.ScanID != id {
				kept = append(kept, res)
			}
		}
		s.results = kept
		writeJSON(w, http.StatusOK, map[string]string{"message": "Scan deleted"})
		return
	}
	writeDetail(w, http.StatusNotFound, "Scan not found")
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.Stats
	for _, scan := range s.scans {
		stats.Scans.Total++
		switch scan.Status {
		case models.ScanStatusCompleted:
			stats.Scans.Completed++
		case models.ScanStatusRunning:
			stats.Scans.Running++
		}
	}

	techs := map[string]int64{}
	ports := map[string]int64{}
	for _, res := range s.results {
		stats.Subdomains.Total++
		if res.IsAlive {
			stats.Subdomains.Alive++
		}
		if len(res.Ports) > 0 {
			stats.Subdomains.WithOpenPorts++
		}
		for _, tech := range res.Technologies {
			techs[tech]++
		}
		for _, port := range res.Ports {
			ports[strconv.Itoa(port)]++
		}
	}
	for name, count := range techs {
		stats.TopTechnologies = append(stats.TopTechnologies, models.TechCount{Name: name, Count: count})
	}
	for port, count := range ports {
		stats.TopPorts = append(stats.TopPorts, models.PortCount{Port: port, Count: count})
	}
	sort.Slice(stats.TopTechnologies, func(i, j int) bool {
		a, b := stats.TopTechnologies[i], stats.TopTechnologies[j]
		return a.Count > b.Count || (a.Count == b.Count && a.Name < b.Name)
	})
	sort.Slice(stats.TopPorts, func(i, j int) bool {
		a, b := stats.TopPorts[i], stats.TopPorts[j]
		return a.Count > b.Count || (a.Count == b.Count && a.Port < b.Port)
	})
	if stats.TopTechnologies == nil {
		stats.TopTechnologies = []models.TechCount{}
	}
	if stats.TopPorts == nil {
		stats.TopPorts = []models.PortCount{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listResultsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	aliveOnly := q.Get("alive_only") == "true"
	var scanID int64
	if raw := q.Get("scan_id"); raw != "" {
		scanID, _ = strconv.ParseInt(raw, 10, 64)
	}

	s.mu.Lock()
	var matching []models.Result
	for _, res := range s.results {
		if scanID != 0 && res.ScanID != scanID {
			continue
		}
		if aliveOnly && !res.IsAlive {
			continue
		}
		matching = append(matching, res)
	}
	s.mu.Unlock()

	sort.Slice(matching, func(i, j int) bool { return matching[i].ID > matching[j].ID })

	page := []models.Result{}
	if skip < len(matching) {
		end := skip + limit
		if end > len(matching) {
			end = len(matching)
		}
		page = matching[skip:end]
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": page, "total": len(matching)})
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	export := []map[string]any{}
	for _, res := range s.results {
		if res.ScanID != id {
			continue
		}
		export = append(export, map[string]any{
			"subdomain":    res.Subdomain,
			"ip":           res.IPAddress,
			"ports":        res.Ports,
			"status_code":  res.StatusCode,
			"title":        res.Title,
			"technologies": res.Technologies,
			"is_alive":     res.IsAlive,
		})
	}
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) listSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	schedules := append([]models.Schedule{}, s.schedules...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) createScheduleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain         string `json:"domain"`
		CronExpression string `json:"cron_expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	schedule := s.addScheduleLocked(strings.ToLower(strings.TrimSpace(req.Domain)), req.CronExpression, true)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) toggleScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.schedules {
		if s.schedules[i].ID == id {
			s.schedules[i].IsActive = !s.schedules[i].IsActive
			writeJSON(w, http.StatusOK, s.schedules[i])
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Scheduled scan not found")
}

func (s *Server) deleteScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.schedules {
		if s.schedules[i].ID == id {
			s.schedules = append(s.schedules[:i:i], s.schedules[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Scheduled scan deleted"})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Scheduled scan not found")
}

// Response utilities

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, statusCode int, detail string) {
	writeJSON(w, statusCode, map[string]string{"detail": detail})
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}
