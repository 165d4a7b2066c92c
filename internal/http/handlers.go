package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-assignment/internal/models"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/jobs", s.handleCreateJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/dispatch", s.handleDispatch).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/cancel", s.handleCancelJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/complete", s.handleCompleteJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}", s.handleGetJob).Methods("GET")
	s.mux.HandleFunc("/api/v1/assignments/{assignment_id}/respond", s.handleRespond).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers", s.handleRegisterDriver).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/assignments", s.handlePendingAssignments).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/state", s.handleDriverState).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/configs", s.handleCreateConfig).Methods("POST")
	s.mux.HandleFunc("/api/v1/configs", s.handleListConfigs).Methods("GET")
	s.mux.HandleFunc("/api/v1/configs/{config_id}/activate", s.handleActivateConfig).Methods("POST")
	s.mux.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    models.JobType `json:"type"`
		Pickup  models.Coord   `json:"pickup"`
		Dropoff models.Coord   `json:"dropoff"`
		Value   float64        `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type != models.JobDelivery && req.Type != models.JobRideshare {
		http.Error(w, "type must be delivery or rideshare", http.StatusBadRequest)
		return
	}
	job := &models.Job{Type: req.Type, Pickup: req.Pickup, Dropoff: req.Dropoff, Value: req.Value}
	if err := s.Scheduler.CreateJob(r.Context(), job); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if err := s.Scheduler.Dispatch(r.Context(), jobID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if err := s.Scheduler.CancelJob(r.Context(), jobID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if err := s.Scheduler.CompleteJob(r.Context(), jobID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Store.GetJob(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	assignmentID := mux.Vars(r)["assignment_id"]
	var req struct {
		Response models.Response `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := s.Scheduler.Respond(r.Context(), assignmentID, req.Response)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"assignment_id": assignmentID, "result": "resolved"})
	case errors.Is(err, models.ErrStaleAssignment):
		// reported no-op, never retried
		writeJSON(w, http.StatusConflict, map[string]any{"assignment_id": assignmentID, "result": "stale"})
	default:
		s.writeError(w, err)
	}
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d.ID == "" {
		d.ID = models.NewID()
	}
	if d.Capability == "" {
		d.Capability = models.CapBoth
	}
	d.Updated = time.Now()
	if err := s.Store.SaveDriver(r.Context(), &d); err != nil {
		s.writeError(w, err)
		return
	}
	s.Registry.Register(d.ID, d.Capability)
	if err := s.Locations.Upsert(r.Context(), d.ID, d.Loc); err != nil {
		s.logger.Warn("location upsert failed", "driver_id", d.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"driver_id": d.ID})
}

func (s *Server) handlePendingAssignments(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	as, err := s.Store.PendingByDriver(r.Context(), driverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if as == nil {
		as = []*models.Assignment{}
	}
	writeJSON(w, http.StatusOK, as)
}

func (s *Server) handleDriverState(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var req struct {
		State models.DriverState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Registry.SetState(driverID, req.State); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"driver_id": driverID, "state": req.State})
}

// handleDriverLocation ingests a high-frequency position ping: published
// to Kafka when configured, folded into the location index either way.
// Location writes never serialize with dispatch.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var p models.LocationPing
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.At.IsZero() {
		p.At = time.Now()
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishPing(p); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", p.DriverID, "error", err)
		}
	}
	if err := s.Locations.Upsert(r.Context(), p.DriverID, p.Loc); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var c models.AssignmentConfig
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if c.ID == "" {
		c.ID = models.NewID()
	}
	if err := s.Store.SaveConfig(r.Context(), &c); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"config_id": c.ID})
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	cs, err := s.Store.ListConfigs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleActivateConfig(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["config_id"]
	if err := s.Store.Activate(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config_id": id, "active": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.Store.CountByStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	depth, err := s.Queue.Depth(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	accepted := counts[models.AssignmentAccepted]
	resolved := accepted + counts[models.AssignmentRejected] + counts[models.AssignmentExpired]
	acceptanceRate := 0.0
	if resolved > 0 {
		acceptanceRate = float64(accepted) / float64(resolved)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assignments_by_status": counts,
		"queue_depth":           depth,
		"acceptance_rate":       acceptanceRate,
	})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(driverID, conn)
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				s.WSReg.Remove(driverID)
				_ = conn.Close()
				return
			}
		}
	}()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrStaleAssignment),
		errors.Is(err, models.ErrDriverBusy),
		errors.Is(err, models.ErrJobTerminal),
		errors.Is(err, models.ErrConfigConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
