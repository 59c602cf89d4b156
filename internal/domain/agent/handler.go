package agent

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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

// List handles GET /agents
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	agents, err := h.svc.List(r.Context(), middleware.GetActor(r.Context()), limit, offset)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.WithMeta(w, agents, response.Meta{Limit: limit, Offset: offset, Count: len(agents)})
}

// Get handles GET /agents/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid agent ID")
		return
	}

	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, a)
}

// Quote handles GET /agents/{id}/quote?token_type=NT&amount=100 and reports
// whether the agent can serve the amount.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid agent ID")
		return
	}
	token := strings.ToUpper(r.URL.Query().Get("token_type"))
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || !amount.IsPositive() {
		response.BadRequest(w, "amount must be a positive decimal")
		return
	}

	usd, err := h.svc.CheckLimits(r.Context(), id, token, amount, r.URL.Query().Get("direction") == "burn")
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, QuoteResponse{TokenType: token, Amount: amount.String(), USD: usd.String()})
}

// Register handles POST /admin/agents
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	capacity := decimal.Zero
	if req.AvailableCapacity != "" {
		capacity = decimal.RequireFromString(req.AvailableCapacity)
	}
	a, err := h.svc.Register(r.Context(), middleware.GetActor(r.Context()), RegisterInput{
		UserID:              uuid.MustParse(req.UserID),
		DisplayName:         req.DisplayName,
		MaxTransactionLimit: decimal.RequireFromString(req.MaxTransactionLimit),
		AvailableCapacity:   capacity,
	})
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.Created(w, a)
}

// UpdateLimits handles PUT /admin/agents/{id}/limits
func (h *Handler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid agent ID")
		return
	}
	var req LimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	in := LimitsInput{IsActive: req.IsActive}
	if req.MaxTransactionLimit != nil {
		v := decimal.RequireFromString(*req.MaxTransactionLimit)
		in.MaxTransactionLimit = &v
	}
	if req.AvailableCapacity != nil {
		v := decimal.RequireFromString(*req.AvailableCapacity)
		in.AvailableCapacity = &v
	}

	a, err := h.svc.UpdateLimits(r.Context(), middleware.GetActor(r.Context()), id, in)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, a)
}

// Reinstate handles POST /admin/agents/{id}/reinstate
func (h *Handler) Reinstate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid agent ID")
		return
	}

	a, err := h.svc.Reinstate(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, a)
}

// Routes mounts under /agents.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/quote", h.Quote)
	return r
}

// AdminRoutes mounts under /admin/agents.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireAdmin())
	r.Post("/", h.Register)
	r.Put("/{id}/limits", h.UpdateLimits)
	r.Post("/{id}/reinstate", h.Reinstate)
	return r
}
