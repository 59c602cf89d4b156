package burn

import (
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

// Create handles POST /burn-requests
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.svc.Create(r.Context(), middleware.GetActor(r.Context()), CreateInput{
		AgentID:           uuid.MustParse(req.AgentID),
		TokenType:         ledger.TokenType(req.TokenType),
		Amount:            decimal.RequireFromString(req.Amount),
		ReceiveMethod:     ReceiveMethod(req.ReceiveMethod),
		BankAccountNumber: req.BankAccountNumber,
		MobileMoneyNumber: req.MobileMoneyNumber,
	})
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.Created(w, ResponseFromEntity(b))
}

// List handles GET /burn-requests
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

// Get handles GET /burn-requests/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), middleware.GetActor(r.Context()), id)
	h.respond(w, r, b, err)
}

// AgentProof handles POST /burn-requests/{id}/agent-proof
func (h *Handler) AgentProof(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req ProofRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.AgentSubmitsProof(r.Context(), middleware.GetActor(r.Context()), id, req.FiatProofURL)
	h.respond(w, r, b, err)
}

// UserConfirm handles POST /burn-requests/{id}/user-confirm
func (h *Handler) UserConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.UserConfirms(r.Context(), middleware.GetActor(r.Context()), id)
	h.respond(w, r, b, err)
}

// Reject handles POST /burn-requests/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.svc.Reject(r.Context(), middleware.GetActor(r.Context()), id, req.Reason)
	h.respond(w, r, b, err)
}

// Cancel handles POST /burn-requests/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Cancel(r.Context(), middleware.GetActor(r.Context()), id)
	h.respond(w, r, b, err)
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

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, b *BurnRequest, err error) {
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, ResponseFromEntity(b))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid burn request ID")
		return uuid.Nil, false
	}
	return id, true
}

// Routes mounts under /burn-requests.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/agent-proof", h.AgentProof)
	r.Post("/{id}/user-confirm", h.UserConfirm)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}
