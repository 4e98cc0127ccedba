package gateway

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Routes wires the gateway surface. Auth for privileged reads is an
// external middleware and is mounted by the caller, not here.
func Routes(h *Handler, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger(log))
	r.Use(Recoverer(log))

	r.Post("/events", h.CreateEvent)
	r.Post("/events/batch", h.CreateEventBatch)
	r.Post("/sessions", h.UpdateSession)

	r.Get("/sessions/{sessionID}", h.GetSession)
	r.Get("/students/{studentID}/activity", h.GetStudentActivity)

	r.Get("/ws", h.Subscribe)
	r.Get("/healthz", h.Health)

	return r
}
