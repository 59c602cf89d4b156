package ledger

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

// List handles GET /wallets
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.svc.ListWallets(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}

	out := make([]WalletResponse, 0, len(wallets))
	for i := range wallets {
		out = append(out, WalletResponseFromEntity(&wallets[i]))
	}
	response.OK(w, out)
}

// Get handles GET /wallets/{token}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	token := TokenType(strings.ToUpper(chi.URLParam(r, "token")))
	wallet, err := h.svc.GetWallet(r.Context(), middleware.GetUserID(r.Context()), token)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, WalletResponseFromEntity(wallet))
}

// ListTransactions handles GET /wallets/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txs, err := h.svc.ListTransactions(r.Context(), middleware.GetUserID(r.Context()), limit, offset)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.WithMeta(w, txs, response.Meta{Limit: limit, Offset: offset, Count: len(txs)})
}

// GetTransaction handles GET /wallets/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction ID")
		return
	}

	tx, err := h.svc.GetTransaction(r.Context(), middleware.GetActor(r.Context()), id)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, tx)
}

// SetChainAddress handles PUT /wallets/{token}/address
func (h *Handler) SetChainAddress(w http.ResponseWriter, r *http.Request) {
	var req ChainAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	token := TokenType(strings.ToUpper(chi.URLParam(r, "token")))
	wallet, err := h.svc.SetChainAddress(r.Context(), middleware.GetUserID(r.Context()), token, req.Address)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, WalletResponseFromEntity(wallet))
}

// Transfer handles POST /wallets/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	from := middleware.GetUserID(r.Context())
	tx, err := h.svc.Transfer(r.Context(), TransferInput{
		FromUserID: from,
		ToUserID:   uuid.MustParse(req.ToUserID),
		TokenType:  TokenType(req.TokenType),
		Amount:     decimal.RequireFromString(req.Amount),
		Reference:  TransferReference(from, req.Reference),
		Memo:       req.Memo,
	})
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.Created(w, tx)
}

// Freeze handles POST /admin/wallets/freeze
func (h *Handler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, true)
}

// Unfreeze handles POST /admin/wallets/unfreeze
func (h *Handler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, false)
}

func (h *Handler) setFrozen(w http.ResponseWriter, r *http.Request, frozen bool) {
	var req FreezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	wallet, err := h.svc.SetFrozen(r.Context(), middleware.GetActor(r.Context()),
		uuid.MustParse(req.UserID), TokenType(req.TokenType), frozen, req.Reason)
	if err != nil {
		errorhandler.Respond(r.Context(), w, err)
		return
	}
	response.OK(w, WalletResponseFromEntity(wallet))
}

// Routes mounts under /wallets.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.List)
	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/{id}", h.GetTransaction)
	r.Post("/transfer", h.Transfer)
	r.Get("/{token}", h.Get)
	r.Put("/{token}/address", h.SetChainAddress)
	return r
}

// AdminRoutes mounts under /admin/wallets.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireAdmin())
	r.Post("/freeze", h.Freeze)
	r.Post("/unfreeze", h.Unfreeze)
	return r
}
