package chain

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tokenbridge/settlement-api/internal/middleware"
	"github.com/tokenbridge/settlement-api/internal/pkg/errorhandler"
	"github.com/tokenbridge/settlement-api/internal/pkg/response"
)

type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// List handles GET /admin/chain-settlements?status=failed
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.dispatcher.List(r.Context(), middleware.GetActor(r.Context()), Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, items)
}

// Retry handles POST /admin/chain-settlements/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid settlement ID")
		return
	}
	s, err := h.dispatcher.Retry(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, s)
}

// AdminRoutes mounts under /admin/chain-settlements.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireAdmin())
	r.Get("/", h.List)
	r.Post("/{id}/retry", h.Retry)
	return r
}
