package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/safety-tracking/internal/dispatch"
	"github.com/example/safety-tracking/internal/geo"
	"github.com/example/safety-tracking/internal/ingest"
	"github.com/example/safety-tracking/internal/lifecycle"
	"github.com/example/safety-tracking/internal/models"
	"github.com/example/safety-tracking/internal/observability"
	"github.com/example/safety-tracking/internal/route"
	"github.com/example/safety-tracking/internal/search"
	"github.com/example/safety-tracking/internal/storage"
)

// ActorRoleHeader names the caller's role on status changes. Requests
// without it are trusted as coming from an upstream that already checked.
const ActorRoleHeader = "X-Actor-Role"

type Server struct {
	Geo       geo.Geo
	Search    *search.Service
	Store     storage.Store
	Publisher ingest.Publisher
	WSReg     *dispatch.WSRegistry
	Notifier  dispatch.Notifier

	logger *zap.Logger
	mux    *mux.Router
	now    func() time.Time
}

type Deps struct {
	Geo       geo.Geo
	Search    *search.Service
	Store     storage.Store
	Publisher ingest.Publisher
	WSReg     *dispatch.WSRegistry
}

func NewServer(d Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Geo == nil {
		d.Geo = geo.NewIndex()
	}
	if d.Store == nil {
		d.Store = storage.NewMemoryStore()
	}
	if d.Publisher == nil {
		d.Publisher = ingest.Discard{}
	}
	if d.WSReg == nil {
		d.WSReg = dispatch.NewWSRegistry(logger)
	}
	if d.Search == nil {
		d.Search = &search.Service{Geo: d.Geo, Logger: logger}
	}
	s := &Server{
		Geo:       d.Geo,
		Search:    d.Search,
		Store:     d.Store,
		Publisher: d.Publisher,
		WSReg:     d.WSReg,
		Notifier:  d.WSReg,
		logger:    logger,
		mux:       mux.NewRouter(),
		now:       time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.registerMiddleware()

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices", s.handleRegisterDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}/status", s.handleDeviceStatus).Methods(http.MethodPatch)
	api.HandleFunc("/devices/{id}", s.handleDeleteDevice).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{id}/locations", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}/locations", s.handleCreateLocation).Methods(http.MethodPost)
	api.HandleFunc("/sos", s.handleCreateSOS).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/status", s.handleAlertStatus).Methods(http.MethodPatch)
	api.HandleFunc("/alerts/{id}/acknowledgements", s.handleAcknowledge).Methods(http.MethodPost)

	s.mux.HandleFunc("/internal/responders/locations", s.handleResponderLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{responder_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	list, err := s.Store.ListDevices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": list})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var d models.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d.ID == "" {
		http.Error(w, "device id required", http.StatusBadRequest)
		return
	}
	d.LastKnown = nil
	if err := s.Store.UpsertDevice(r.Context(), d); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		http.Error(w, "online flag required", http.StatusBadRequest)
		return
	}
	d, err := s.Store.SetDeviceOnline(r.Context(), mux.Vars(r)["id"], *body.Online)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteDevice(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	pts, err := s.Store.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pts == nil {
		pts = []models.LocationPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": pts})
}

func (s *Server) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var in models.NewLocationPoint
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !route.ValidCoord(in.Loc) {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	p := models.LocationPoint{
		ID:         uuid.NewString(),
		DeviceID:   mux.Vars(r)["id"],
		Loc:        in.Loc,
		Accuracy:   in.Accuracy,
		Source:     in.Source,
		RecordedAt: s.now().UTC(),
		IsSOS:      in.IsSOS,
	}
	if err := s.Store.SaveLocation(r.Context(), &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Publisher.PublishLocation(r.Context(), p); err != nil {
		observability.PublishFailures.WithLabelValues("location").Inc()
		s.logger.Warn("publish location failed", zap.String("device_id", p.DeviceID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, p)
}

type sosRequest struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	DeviceID string   `json:"device_id,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
	Severity string   `json:"severity,omitempty"`
}

// handleCreateSOS records the alert first and searches for responders
// second; a failed search still yields an alert, just without a radius.
func (s *Server) handleCreateSOS(w http.ResponseWriter, r *http.Request) {
	var req sosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Lat == nil || req.Lon == nil {
		http.Error(w, "lat and lon required", http.StatusBadRequest)
		return
	}
	loc := models.Coord{Lat: *req.Lat, Lon: *req.Lon}
	if !route.ValidCoord(loc) {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	alert := models.AlertEvent{
		ID:        uuid.NewString(),
		Type:      "sos",
		Source:    models.SourceSOS,
		Status:    models.StatusPending,
		Severity:  req.Severity,
		CreatedAt: s.now().UTC(),
		Victim:    models.Victim{DeviceID: req.DeviceID, UserID: req.UserID, Loc: loc},
	}

	var found *search.Result
	if res, err := s.Search.Find(ctx, loc); err != nil {
		s.logger.Warn("responder search failed", zap.String("alert_id", alert.ID), zap.Error(err))
	} else {
		found = &res
		radius := res.Radius
		alert.SearchRadius = &radius
	}

	if err := s.Store.CreateAlert(ctx, &alert); err != nil {
		s.writeError(w, r, err)
		return
	}

	out := models.SOSCreated{AlertID: alert.ID}
	if found != nil {
		out.Responders = &models.ResponderSummary{TotalFound: found.TotalFound, Radius: found.Radius}
		ids := make([]string, 0, len(found.Candidates))
		for _, c := range found.Candidates {
			ids = append(ids, c.Responder.ID)
		}
		sent, err := dispatch.NotifyAll(s.Notifier, ids, models.AlertNotice{Kind: "created", Alert: alert})
		if err != nil {
			s.logger.Warn("alert notice failed", zap.String("alert_id", alert.ID), zap.Error(err))
		}
		s.logger.Info("sos created",
			zap.String("alert_id", alert.ID),
			zap.Float64("radius_m", found.Radius),
			zap.Int("responders_found", found.TotalFound),
			zap.Int("notified", sent))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.Store.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alertView(a))
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.AlertStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		http.Error(w, "status required", http.StatusBadRequest)
		return
	}
	if role := r.Header.Get(ActorRoleHeader); role != "" {
		if err := lifecycle.Authorize(models.ActorRole(role), body.Status); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	a, err := s.Store.UpdateAlertStatus(r.Context(), mux.Vars(r)["id"], body.Status, s.now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.AlertTransitions.WithLabelValues(string(a.Status)).Inc()
	s.Notifier.Broadcast(models.AlertNotice{Kind: "status", Alert: a})
	writeJSON(w, http.StatusOK, alertView(a))
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var ack models.Acknowledgement
	if err := json.NewDecoder(r.Body).Decode(&ack); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ack.Role.IsResponder() {
		s.writeError(w, r, lifecycle.ErrActorNotPermitted)
		return
	}
	if ack.ResponderID == "" {
		http.Error(w, "responder_id required", http.StatusBadRequest)
		return
	}
	if ack.RespondedAt.IsZero() {
		ack.RespondedAt = s.now().UTC()
	}
	a, err := s.Store.AddAcknowledgement(r.Context(), mux.Vars(r)["id"], ack)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Notifier.Broadcast(models.AlertNotice{Kind: "acknowledged", Alert: a})
	writeJSON(w, http.StatusOK, alertView(a))
}

func (s *Server) handleResponderLocation(w http.ResponseWriter, r *http.Request) {
	var resp models.Responder
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if resp.ID == "" || !resp.Role.IsResponder() || !route.ValidCoord(resp.Loc) {
		http.Error(w, "invalid responder report", http.StatusBadRequest)
		return
	}
	resp.Online = true
	resp.Updated = s.now().UTC()
	if err := s.Geo.Upsert(r.Context(), resp); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Publisher.PublishResponder(r.Context(), resp); err != nil {
		observability.PublishFailures.WithLabelValues("responder").Inc()
		s.logger.Warn("publish responder failed", zap.String("responder_id", resp.ID), zap.Error(err))
	}
	observability.ResponderUpdates.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["responder_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", zap.String("responder_id", id), zap.Error(err))
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		defer func() {
			s.WSReg.Remove(id, conn)
			_ = conn.Close()
		}()
		// notices only flow outward; reading detects the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// alertView hides the search radius once the alert is resolved.
func alertView(a models.AlertEvent) models.AlertEvent {
	if a.Status == models.StatusResolved {
		a.SearchRadius = nil
	}
	if a.Acknowledgements == nil {
		a.Acknowledgements = []models.Acknowledgement{}
	}
	return a
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrActorNotPermitted):
		code = http.StatusForbidden
	case errors.Is(err, lifecycle.ErrAlertResolved),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrUnknownAlertStatus):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
