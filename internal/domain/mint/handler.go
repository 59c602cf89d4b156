package mint

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
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

// Create handles POST /mint-requests
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	m, err := h.svc.Create(r.Context(), middleware.GetActor(r.Context()), CreateInput{
		AgentID:       uuid.MustParse(req.AgentID),
		TokenType:     ledger.TokenType(req.TokenType),
		Amount:        decimal.RequireFromString(req.Amount),
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.Created(w, ResponseFromEntity(m))
}

// List handles GET /mint-requests
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	if status := q.Get("status"); status != "" {
		st := Status(status)
		f.Status = &st
	}

	items, err := h.svc.List(r.Context(), middleware.GetActor(r.Context()), f)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.WithMeta(w, ResponsesFromEntities(items), response.Meta{Limit: f.Limit, Offset: f.Offset, Count: len(items)})
}

// Get handles GET /mint-requests/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.Get(r.Context(), middleware.GetActor(r.Context()), id)
	h.respond(w, r, m, err)
}

// SubmitProof handles POST /mint-requests/{id}/proof
func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req ProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	m, err := h.svc.SubmitProof(r.Context(), middleware.GetActor(r.Context()), id, req.ProofURL)
	h.respond(w, r, m, err)
}

// Confirm handles POST /mint-requests/{id}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.Confirm(r.Context(), middleware.GetActor(r.Context()), id)
	h.respond(w, r, m, err)
}

// Reject handles POST /mint-requests/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	m, err := h.svc.Reject(r.Context(), middleware.GetActor(r.Context()), id, req.Reason)
	h.respond(w, r, m, err)
}

// Cancel handles POST /mint-requests/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.Cancel(r.Context(), middleware.GetActor(r.Context()), id)
	h.respond(w, r, m, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, m *MintRequest, err error) {
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, ResponseFromEntity(m))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid mint request ID")
		return uuid.Nil, false
	}
	return id, true
}

// Routes mounts under /mint-requests.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/proof", h.SubmitProof)
	r.Post("/{id}/confirm", h.Confirm)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}
