package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classpulse/telemetry-pipeline/internal/activity"
	"github.com/classpulse/telemetry-pipeline/internal/reconciler"
	"github.com/classpulse/telemetry-pipeline/internal/session"
	"github.com/classpulse/telemetry-pipeline/internal/telemetry"
	"github.com/classpulse/telemetry-pipeline/internal/ws"
)

// Reconciler is the slice of the reconciliation service the gateway
// drives.
type Reconciler interface {
	ReconcileEvent(ctx context.Context, event *telemetry.Event) (*telemetry.Event, error)
	ReconcileBatch(ctx context.Context, events []*telemetry.Event) reconciler.BatchResult
	ReconcileSessionUpdate(ctx context.Context, update session.Update) (*session.Session, error)
}

type SessionReader interface {
	GetByID(ctx context.Context, sessionID string) (*session.Session, error)
}

type ActivityReader interface {
	GetByStudent(ctx context.Context, studentID string, from, to time.Time) ([]*activity.Aggregate, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Handler struct {
	reconciler Reconciler
	sessions   SessionReader
	activities ActivityReader
	hub        *ws.Hub
	health     HealthChecker
	wsConfig   ws.ClientConfig
	logger     *zap.Logger
}

func NewHandler(
	rec Reconciler,
	sessions SessionReader,
	activities ActivityReader,
	hub *ws.Hub,
	health HealthChecker,
	wsConfig ws.ClientConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		reconciler: rec,
		sessions:   sessions,
		activities: activities,
		hub:        hub,
		health:     health,
		wsConfig:   wsConfig,
		logger:     logger,
	}
}

// CreateEvent ingests a single event. 2xx means the event is durable;
// fan-out to subscribers is not part of the contract.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var event telemetry.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json", Message: err.Error()})
		return
	}

	persisted, err := h.reconciler.ReconcileEvent(r.Context(), &event)
	if err != nil {
		h.writeEventError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, persisted)
}

// CreateEventBatch ingests a batch. Items are validated independently:
// invalid ones are rejected per index and the rest proceed in arrival
// order. Only a batch in which every item failed is a 400.
func (h *Handler) CreateEventBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json", Message: err.Error()})
		return
	}
	if len(req.Events) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "events_list_required"})
		return
	}

	events := make([]*telemetry.Event, 0, len(req.Events))
	indexMap := make([]int, 0, len(req.Events))
	var rejected []itemError

	for i, raw := range req.Events {
		var event telemetry.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			rejected = append(rejected, itemError{Index: i, Error: "invalid event payload"})
			continue
		}
		if err := event.Validate(); err != nil {
			rejected = append(rejected, itemError{Index: i, Error: err.Error()})
			continue
		}
		events = append(events, &event)
		indexMap = append(indexMap, i)
	}

	var result reconciler.BatchResult
	if len(events) > 0 {
		result = h.reconciler.ReconcileBatch(r.Context(), events)
	}

	resp := newBatchResponse(0, rejected, result, indexMap)

	status := http.StatusOK
	if resp.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// UpdateSession is the side-channel session metadata path.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var update session.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json", Message: err.Error()})
		return
	}

	sess, err := h.reconciler.ReconcileSessionUpdate(r.Context(), update)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSessionID) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_session", Message: err.Error()})
			return
		}
		h.logger.Error("session update failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_server_error"})
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "session_not_found"})
			return
		}
		h.logger.Error("failed to get session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_server_error"})
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// GetStudentActivity serves the dashboard's initial aggregate window
// before it switches to the live student topic.
func (h *Handler) GetStudentActivity(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_from"})
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_to"})
			return
		}
		to = t
	}

	aggregates, err := h.activities.GetByStudent(r.Context(), studentID, from, to)
	if err != nil {
		h.logger.Error("failed to get activity", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_server_error"})
		return
	}
	if aggregates == nil {
		aggregates = []*activity.Aggregate{}
	}

	writeJSON(w, http.StatusOK, aggregates)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards connect cross-origin; access control is the auth
	// middleware's concern, not the pipeline's.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Subscribe upgrades the connection and hands it to the hub. Topic joins
// arrive as messages on the socket.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, h.wsConfig, h.logger)
	client.Start()
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{"postgres": "ok"}
	status := http.StatusOK

	if err := h.health.HealthCheck(r.Context()); err != nil {
		deps["postgres"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, healthResponse{
		Status:       http.StatusText(status),
		Dependencies: deps,
	})
}

func (h *Handler) writeEventError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, telemetry.ErrInvalidEventType),
		errors.Is(err, telemetry.ErrInvalidTimestamp),
		errors.Is(err, telemetry.ErrInvalidSessionID):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_event", Message: err.Error()})
	case errors.Is(err, telemetry.ErrSessionNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "unknown_session", Message: err.Error()})
	default:
		h.logger.Error("failed to reconcile event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_server_error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
