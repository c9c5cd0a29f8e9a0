package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mossline/vivarium-core/internal/scheduler"
	"github.com/mossline/vivarium-core/internal/statestore"
)

// healthCheckTimeout bounds each dependency probe during /health.
const healthCheckTimeout = 5 * time.Second

// deviceResponse is the JSON shape for a device listing entry.
type deviceResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	IntervalSeconds int    `json:"interval_seconds"`
	PolicyKind      string `json:"policy_kind"`
	Quarantined     bool   `json:"quarantined"`
	QuarantineCause string `json:"quarantine_cause,omitempty"`
}

// overrideRequest is the JSON body for a manual override.
type overrideRequest struct {
	IsOn  bool `json:"is_on"`
	Level *int `json:"level,omitempty"`
}

// handleHealth returns the server health status.
//
// Each registered dependency probe is run with a bounded timeout; any
// failure degrades the overall status and the response code becomes 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}

// handleListDevices returns all configured devices with their policy kind
// and quarantine status.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	quarantined := s.loop.Quarantined()
	devices := s.loop.Devices()

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		cause, isQuarantined := quarantined[d.ID]
		out = append(out, deviceResponse{
			ID:              d.ID,
			Name:            d.Name,
			IntervalSeconds: int(d.Interval / time.Second),
			PolicyKind:      d.Policy.Kind(),
			Quarantined:     isQuarantined,
			QuarantineCause: cause,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDeviceState returns the last committed state for a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if !s.knownDevice(deviceID) {
		writeNotFound(w, "unknown device: "+deviceID)
		return
	}

	state, err := s.store.LastState(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("last state lookup failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to read device state")
		return
	}
	if state == nil {
		writeNotFound(w, "device has no committed state yet: "+deviceID)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// handleDeviceHistory returns transition records for a device, newest
// first. Optional query parameters: since and until (RFC 3339) and limit.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if !s.knownDevice(deviceID) {
		writeNotFound(w, "unknown device: "+deviceID)
		return
	}

	var q statestore.HistoryQuery

	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339")
			return
		}
		q.Since = t
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "until must be RFC 3339")
			return
		}
		q.Until = t
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}

	records, err := s.store.History(r.Context(), deviceID, q)
	if err != nil {
		s.logger.Error("history lookup failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to read device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":   deviceID,
		"transitions": records,
		"count":       len(records),
	})
}

// handleOverride queues a manual override for a device. The override is
// applied on the device's next control tick and recorded with manual
// origin, so it is accepted (202) rather than applied synchronously.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Level != nil && (*req.Level < 0 || *req.Level > 100) {
		writeBadRequest(w, "level must be between 0 and 100")
		return
	}

	err := s.loop.Override(deviceID, req.IsOn, req.Level)
	switch {
	case errors.Is(err, scheduler.ErrUnknownDevice):
		writeNotFound(w, "unknown device: "+deviceID)
		return
	case errors.Is(err, scheduler.ErrQuarantined):
		writeConflict(w, "device is quarantined: "+deviceID)
		return
	case err != nil:
		s.logger.Error("override failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to queue override")
		return
	}

	s.logger.Info("manual override accepted", "device_id", deviceID, "is_on", req.IsOn)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": deviceID,
		"is_on":     req.IsOn,
		"level":     req.Level,
		"status":    "accepted",
	})
}

// knownDevice reports whether the control loop manages the given device.
func (s *Server) knownDevice(deviceID string) bool {
	for _, d := range s.loop.Devices() {
		if d.ID == deviceID {
			return true
		}
	}
	return false
}
