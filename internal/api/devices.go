package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dijker/com.netatmo/internal/audit"
	"github.com/Dijker/com.netatmo/internal/device"
	"github.com/Dijker/com.netatmo/internal/driver"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// deviceView is a paired device with its cached values.
type deviceView struct {
	device.Device
	Values     map[string]any `json:"values,omitempty"`
	LastSynced *time.Time     `json:"last_synced,omitempty"`
}

func (s *Server) view(d device.Device) deviceView {
	v := deviceView{Device: d}
	if s.state == nil {
		return v
	}
	v.Values = s.state.Snapshot(d.ID)
	if at, ok := s.state.LastSynced(d.ID); ok {
		v.LastSynced = &at
	}
	return v
}

func (s *Server) driverParam(w http.ResponseWriter, r *http.Request) (*driver.Driver, bool) {
	d, err := s.drivers.Get(device.Driver(chi.URLParam(r, "driver")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	return d, true
}

func (s *Server) handleListPairable(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driverParam(w, r)
	if !ok {
		return
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" || len(accountID) > maxQueryParamLen {
		writeBadRequest(w, "account_id is required")
		return
	}

	candidates, err := d.ListPairable(r.Context(), accountID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []driver.Candidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": candidates, "count": len(candidates)})
}

func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driverParam(w, r)
	if !ok {
		return
	}

	var c driver.Candidate
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if c.AccountID == "" || c.StationID == "" || c.Type == "" {
		writeBadRequest(w, "account_id, station_id and type are required")
		return
	}

	dev, err := d.AddDevice(r.Context(), c)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.Entry{
		Action: audit.ActionDeviceAdded, Subject: dev.ID, AccountID: dev.AccountID,
		Details: map[string]any{"driver": string(dev.Driver), "type": string(dev.Type)},
	})
	writeJSON(w, http.StatusCreated, s.view(*dev))
}

// handleListDevices returns paired devices, optionally filtered by
// account_id.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var (
		devices []device.Device
		err     error
	)
	if accountID := r.URL.Query().Get("account_id"); accountID != "" {
		devices, err = s.catalog.ListByAccount(r.Context(), accountID)
	} else {
		devices, err = s.catalog.ListDevices(r.Context())
	}
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.view(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.catalog.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(*dev))
}

func (s *Server) handleRenameDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	dev, err := s.catalog.RenameDevice(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.Entry{
		Action: audit.ActionDeviceRenamed, Subject: dev.ID, AccountID: dev.AccountID,
		Details: map[string]any{"name": dev.Name},
	})
	writeJSON(w, http.StatusOK, s.view(*dev))
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.drivers.ForDevice(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := d.DeleteDevice(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.Entry{Action: audit.ActionDeviceDeleted, Subject: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	id, capabilityID := chi.URLParam(r, "id"), chi.URLParam(r, "capability")
	d, err := s.drivers.ForDevice(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	value, err := d.Get(r.Context(), id, capabilityID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "capability": capabilityID, "value": value})
}

func (s *Server) handleSetCapability(w http.ResponseWriter, r *http.Request) {
	id, capabilityID := chi.URLParam(r, "id"), chi.URLParam(r, "capability")

	var req struct {
		Value any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	if err := s.drivers.SetCapability(r.Context(), id, capabilityID, req.Value); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.record(r, audit.Entry{
		Action: audit.ActionCapabilitySet, Subject: id,
		Details: map[string]any{"capability": capabilityID, "value": req.Value},
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"device_id": id, "capability": capabilityID, "status": "accepted"})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if _, err := s.catalog.GetDevice(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to load device history")
		return
	}
	if entries == nil {
		entries = []device.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "history": entries, "count": len(entries)})
}

// handleListSchedules autocompletes thermostat programs by name.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.drivers.ForDevice(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	programs, err := d.ScheduleAutocomplete(r.Context(), id, r.URL.Query().Get("query"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "schedules": programs, "count": len(programs)})
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errInvalidLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
