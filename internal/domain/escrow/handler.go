package escrow

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/middleware"
	"github.com/tokenbridge/settlement-api/internal/pkg/errorhandler"
	"github.com/tokenbridge/settlement-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Get handles GET /escrows/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid escrow ID")
		return
	}
	e, err := h.svc.Get(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, e)
}

// Reconcile handles GET /admin/escrows/reconcile. With user_id and
// token_type it checks one wallet, otherwise it lists every mismatch.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("user_id") == "" {
		mismatches, err := h.svc.ReconcileAll(r.Context())
		if err != nil {
			errorhandler.Respond(r.Context(), w, err)
			return
		}
		response.OK(w, mismatches)
		return
	}

	userID, err := uuid.Parse(q.Get("user_id"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}
	token := ledger.TokenType(strings.ToUpper(q.Get("token_type")))
	if !token.Valid() {
		response.BadRequest(w, "Invalid token type")
		return
	}

	rec, err := h.svc.Reconcile(r.Context(), userID, token)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"reconciliation": rec,
		"balanced":       rec.Balanced(),
	})
}

// Routes mounts under /escrows.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/{id}", h.Get)
	return r
}

// AdminRoutes mounts under /admin/escrows.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireAdmin())
	r.Get("/reconcile", h.Reconcile)
	return r
}
