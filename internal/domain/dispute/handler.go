package dispute

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tokenbridge/settlement-api/internal/middleware"
	"github.com/tokenbridge/settlement-api/internal/pkg/errorhandler"
	"github.com/tokenbridge/settlement-api/internal/pkg/response"
	"github.com/tokenbridge/settlement-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Open handles POST /disputes
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !decode(w, r, &req) {
		return
	}

	in := OpenInput{Reason: req.Reason, Details: req.Details}
	if req.MintRequestID != "" {
		id := uuid.MustParse(req.MintRequestID)
		in.MintRequestID = &id
	}
	if req.BurnRequestID != "" {
		id := uuid.MustParse(req.BurnRequestID)
		in.BurnRequestID = &id
	}

	d, err := h.svc.Open(r.Context(), middleware.GetActor(r.Context()), in)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.Created(w, ResponseFromEntity(d))
}

// List handles GET /disputes
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if status := q.Get("status"); status != "" {
		st := Status(status)
		f.Status = &st
	}
	if subject := q.Get("subject"); subject != "" {
		sub := Subject(subject)
		f.Subject = &sub
	}

	items, err := h.svc.List(r.Context(), middleware.GetActor(r.Context()), f)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.WithMeta(w, ResponsesFromEntities(items), response.Meta{Limit: f.Limit, Offset: f.Offset, Count: len(items)})
}

// Get handles GET /disputes/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Get(r.Context(), middleware.GetActor(r.Context()), id)
	h.respond(w, r, d, err)
}

// Escalate handles POST /disputes/{id}/escalate
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req EscalateRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.svc.Escalate(r.Context(), middleware.GetActor(r.Context()), id, req.Level, req.Notes)
	h.respond(w, r, d, err)
}

// Resolve handles POST /disputes/{id}/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.svc.Resolve(r.Context(), middleware.GetActor(r.Context()), id, req.Input())
	h.respond(w, r, d, err)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := response.DecodeJSON(r.Body, dst); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(dst); errs != nil {
		response.ValidationError(w, errs)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, d *Dispute, err error) {
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, ResponseFromEntity(d))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid dispute ID")
		return uuid.Nil, false
	}
	return id, true
}

// Routes mounts under /disputes. Escalation and resolution are admin only.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Open)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin())
		r.Post("/{id}/escalate", h.Escalate)
		r.Post("/{id}/resolve", h.Resolve)
	})
	return r
}
